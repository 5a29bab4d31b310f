package db

import "github.com/prometheus/client_golang/prometheus"

var (
	statementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memodb_statements_total",
		Help: "Statements executed, by statement kind.",
	}, []string{"kind"})

	commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memodb_commits_total",
		Help: "Transactions committed.",
	})
	abortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memodb_aborts_total",
		Help: "Transactions aborted or rolled back.",
	})
	conflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memodb_conflicts_total",
		Help: "Commits rejected by write-write conflict or unique recheck.",
	})

	walRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memodb_wal_records_total",
		Help: "Records appended to the write-ahead log.",
	})
	vacuumedVersionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memodb_vacuumed_versions_total",
		Help: "Row versions reclaimed by vacuum.",
	})
)

func init() {
	prometheus.MustRegister(
		statementsTotal,
		commitsTotal,
		abortsTotal,
		conflictsTotal,
		walRecordsTotal,
		vacuumedVersionsTotal,
	)
}
