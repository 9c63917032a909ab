package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

func (n *Noop) Idle()                {}
func (n *Noop) Moving(opening bool)  {}
func (n *Noop) Tripped(event string) {}
func (n *Noop) SafeMode()            {}
func (n *Noop) ConnectionLost()      {}
func (n *Noop) ConnectionRestored()  {}
func (n *Noop) Shutdown()            {}
func (n *Noop) Release() error       { return nil }
