// Package observer provides pipeline.Observer implementations and run
// persistence for the pipeline package.
//
//   - Store: records runs and their steps in SQLite (mattn/go-sqlite3) or
//     Postgres (pgx). Open migrates the schema with golang-migrate from the
//     embedded migrations directory.
//   - DBObserver: writes each pipeline run and its steps to a Store
//     (pipeline_run, pipeline_run_step) for monitoring and resume support.
//   - StatusObserver: keeps the current step of each pipeline in an
//     in-memory cache under "<pipeline>.status" for polling.
//   - Resumer: re-runs only the failed steps of a recorded run, under the
//     same run ID and with the recorded arguments.
//
// Typical wiring:
//
//	store, err := observer.Open(ctx, observer.DriverSQLite, "runs.db")
//	...
//	obs := pipeline.MultiObserver{observer.NewDBObserver(store), status}
//	res, err := p.RunWithOptions(ctx, &pipeline.RunOptions{Observer: obs}, args...)
//	...
//	resumer := observer.NewResumer(store, lookup)
//	_, err = resumer.Resume(ctx, res.RunID, obs)
package observer
