package provision

import "time"

// Provider identifies one of the two identity providers a provisioning run
// authenticates against.
type Provider string

const (
	ProviderSourceControl Provider = "source-control"
	ProviderStorage       Provider = "storage"
)

// Session is a short-lived bearer credential for one provider. Sessions are
// values: they are handed down the call chain and never stored.
type Session struct {
	Provider    Provider
	AccessToken string
	IssuedAt    time.Time
	Expiry      time.Time
}

// Valid reports whether the session can still be used as a bearer credential.
func (s Session) Valid() bool {
	if s.AccessToken == "" {
		return false
	}
	return s.Expiry.IsZero() || time.Now().Before(s.Expiry)
}

// Request describes one provisioning run. It is immutable and consumed once.
type Request struct {
	SiteName     string
	TemplateName string
}

// Repo identifies a freshly generated repository.
type Repo struct {
	APIURL   string
	CloneURL string
	Owner    string
	Name     string
}

// Folder identifies a freshly created storage folder.
type Folder struct {
	ID  string
	URL string
}

// Result is what a successful run hands back to the caller.
type Result struct {
	CloneURL  string
	FolderURL string
}
