package trigger

// Schedule is a cron-driven job trigger: a cron expression, a timezone and
// the job to run. Evaluation belongs to the app's scheduler; every scheduled
// job is safe to invoke repeatedly and out of strict daily order.
type Schedule struct {
	Spec        string
	Timezone    string
	Job         string
	Description string
}

// CronSpec renders the expression for the scheduler, carrying the timezone
// inline.
func (s Schedule) CronSpec() string {
	if s.Timezone == "" {
		return s.Spec
	}
	return "CRON_TZ=" + s.Timezone + " " + s.Spec
}

// DefaultSchedules is the production schedule set: weekly metadata refresh,
// staggered daily extraction and analytics, and the monthly report on the
// first of each month.
func DefaultSchedules(metadataJob, marketDataJob, priceHistoryJob, analyticsJob, monthlyReportJob string) []Schedule {
	return []Schedule{
		{
			Spec:        "0 0 * * 0",
			Timezone:    "Europe/Paris",
			Job:         metadataJob,
			Description: "refresh the coin list weekly, sundays at midnight",
		},
		{
			Spec:        "0 8 * * *",
			Timezone:    "Europe/Paris",
			Job:         marketDataJob,
			Description: "pull daily market observations every morning",
		},
		{
			Spec:        "0 9 * * *",
			Timezone:    "Europe/Paris",
			Job:         priceHistoryJob,
			Description: "refresh the historical price series daily",
		},
		{
			Spec:        "0 10 * * *",
			Timezone:    "Europe/Paris",
			Job:         analyticsJob,
			Description: "recompute trends and the trend chart daily",
		},
		{
			Spec:        "0 0 1 * *",
			Timezone:    "Europe/Paris",
			Job:         monthlyReportJob,
			Description: "generate the monthly performance report",
		},
	}
}
