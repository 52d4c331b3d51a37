package auth

// ServiceAccount is the subset of a Google service account key the store needs
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`
}

// Source names where credentials were found
type Source string

const (
	SourceInline  Source = "inline"
	SourceFile    Source = "file"
	SourceDefault Source = "default"
)
