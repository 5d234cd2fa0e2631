package intervention

// Mailbox is a single-slot command channel. Send never blocks and replaces
// an unread command; Poll never blocks and empties the slot.
type Mailbox struct {
	ch chan Command
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Command, 1)}
}

// Send stores cmd, discarding any command not yet read.
func (m *Mailbox) Send(cmd Command) {
	for {
		select {
		case m.ch <- cmd:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// Poll returns the pending command, if any, and clears the slot.
func (m *Mailbox) Poll() (Command, bool) {
	select {
	case cmd := <-m.ch:
		return cmd, true
	default:
		return Command{}, false
	}
}
