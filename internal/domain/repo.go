package domain

// RepositoryHandle describes a local clone and the remote it tracks.
// Credentials are deliberately absent; they travel separately and only
// for the duration of a gateway call.
type RepositoryHandle struct {
	LocalPath  string   `json:"local_path"`
	RemoteURL  string   `json:"remote_url"`
	BranchName string   `json:"branch_name"`
	AuthMode   AuthMode `json:"auth_mode"`
}
