package common

// NodeTokenHeaderName is the gRPC metadata key carrying the caller's node token.
const NodeTokenHeaderName = "node_token"

// Directories under a node's data dir.
const (
	DocumentsDir  = "files"
	StagingDir    = "files_temp"
	StorageDir    = "encrypted_storage"
	QuarantineDir = "retrieved_encrypted_backup"
)
