package sensor

// PlatformConfig selects and configures the platform source.
type PlatformConfig struct {
	// BusName, ObjectPath, Interface and Property override the
	// default bus coordinates of the step counter service. Empty
	// fields keep the defaults. Ignored off Linux.
	BusName    string
	ObjectPath string
	Interface  string
	Property   string
}
