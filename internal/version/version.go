package version

const (
	AppName = "lavabridge"
	Version = "1.0.0"
)
