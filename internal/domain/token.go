package domain

// TokenPair holds vendor API credentials for one user id.
type TokenPair struct {
	Access  string
	Refresh string
}

// Empty reports whether no access token is available.
func (p TokenPair) Empty() bool {
	return p.Access == ""
}
