package core

// CommandName identifies one remote-control route.
type CommandName string

const (
	CmdOpen       CommandName = "open"
	CmdLoad       CommandName = "load"
	CmdSave       CommandName = "save"
	CmdClear      CommandName = "clear"
	CmdWhiteboard CommandName = "whiteboard"
	CmdClose      CommandName = "close"
	CmdBrowse     CommandName = "browse"
	CmdScreenshot CommandName = "screenshot"
	CmdExit       CommandName = "exit"
)

// Shape describes the JSON payload a command expects.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeURI
	ShapeUUID
)

// Field returns the required JSON field for the shape, or "" for ShapeNone.
func (s Shape) Field() string {
	switch s {
	case ShapeURI:
		return "uri"
	case ShapeUUID:
		return "uuid"
	default:
		return ""
	}
}

func (s Shape) String() string {
	if f := s.Field(); f != "" {
		return f
	}
	return "none"
}

// Payload is the validated content of a command body.
type Payload struct {
	URI  string
	UUID string
}
