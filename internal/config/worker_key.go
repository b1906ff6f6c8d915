package config

type WorkerKeyStruct struct {
	PersistSnapshotsQueue string
	PersistAnswersQueue   string
	PersistResultsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSnapshotsQueue: "persist_snapshots_queue",
	PersistAnswersQueue:   "persist_answers_queue",
	PersistResultsQueue:   "persist_results_queue",
}
