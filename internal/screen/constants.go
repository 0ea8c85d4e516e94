package screen

// Windows smaller than this are toolbars, popovers and notifications.
const (
	MinWindowWidth  = 320
	MinWindowHeight = 240
)
