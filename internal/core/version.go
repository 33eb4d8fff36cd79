package core

const (
	// OJSVersion is the version reported by the servers and the admin API.
	OJSVersion = "0.1.0"
	// OJSMediaType is the content type of admin API responses.
	OJSMediaType = "application/openjobspec+json"
)
