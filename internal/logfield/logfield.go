package logfield

const (
	Bucket             = "bucket"
	DestinationTable   = "destinationTable"
	Error              = "error"
	KeyPrefix          = "keyPrefix"
	ManifestCount      = "manifestCount"
	ObjectCount        = "objectCount"
	ObjectName         = "objectName"
	Query              = "query"
	QueryExecutionTime = "queryExecutionTime"
	RowCount           = "rowCount"
	Slices             = "slices"
	SourceQuery        = "sourceQuery"
	SourceTable        = "sourceTable"
	StagingPath        = "stagingPath"
	State              = "state"
)
