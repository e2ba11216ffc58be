package engine

// Style is the decoration of the version widget.
type Style string

const (
	StyleNormal Style = "normal"
	StyleUpdate Style = "update"
)

// Widget is the clickable version indicator in the UI shell.
type Widget interface {
	SetCaption(caption string)
	SetVisible(visible bool)
	SetStyle(style Style)
}

type nopWidget struct{}

func (nopWidget) SetCaption(string) {}
func (nopWidget) SetVisible(bool)   {}
func (nopWidget) SetStyle(Style)    {}
