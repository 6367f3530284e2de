package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// Machine is the slider as seen by the protocol. *motion.Supervisor
// implements it.
type Machine interface {
	Mode() motion.Mode
	SetMode(m motion.Mode)
	AutomaticMoveDistance() float64
	SetAutomaticMoveDistance(mm float64) error
	AutomaticMoveInterval() time.Duration
	SetAutomaticMoveInterval(d time.Duration) error
	Position() (float64, int64)
	MoveTo(mm float64) (int64, error)
	Resume() (bool, error)
	Pause()
	Home() error
	LimitState(side motion.Side) (bool, int32)
	Feedrate() (float64, float64)
	SetFeedrate(mmPerMin float64) error
}

// Replies shared by several commands.
const (
	ReplyUnrecognized = "Unrecognized Command"
	ReplyBadMode      = "Could not recognize the mode"
	ReplyOutOfRange   = "Value out of range"
)

// Dispatch executes cmd on m and returns the reply text. Refused requests
// produce a reply, never an error.
func Dispatch(m Machine, cmd Command) string {
	switch cmd.Kind {
	case QueryMode:
		return fmt.Sprintf("Current Mode = %s", m.Mode())

	case SetMode:
		switch cmd.Word {
		case "Automatic":
			m.SetMode(motion.Automatic)
		case "Manual":
			m.SetMode(motion.Manual)
		default:
			return ReplyBadMode
		}
		return fmt.Sprintf("Setting Mode to %s", cmd.Word)

	case QueryAutoDistance:
		return fmt.Sprintf("Current Automatic Move Distance = %f mm", m.AutomaticMoveDistance())

	case SetAutoDistance:
		if err := m.SetAutomaticMoveDistance(cmd.Value); err != nil {
			return replyFor(err)
		}
		return fmt.Sprintf("Setting Automatic Move Distance to %f mm", cmd.Value)

	case QueryAutoInterval:
		return fmt.Sprintf("Current Automatic Move Interval = %f s", m.AutomaticMoveInterval().Seconds())

	case SetAutoInterval:
		d, ok := seconds(cmd.Value)
		if !ok {
			return ReplyOutOfRange
		}
		if err := m.SetAutomaticMoveInterval(d); err != nil {
			return replyFor(err)
		}
		return fmt.Sprintf("Setting Automatic Move Interval to %f s", cmd.Value)

	case QueryPos:
		mm, steps := m.Position()
		return fmt.Sprintf("Current Position = %f mm (%d steps)", mm, steps)

	case SetPos:
		steps, err := m.MoveTo(cmd.Value)
		if err != nil {
			return replyFor(err)
		}
		return fmt.Sprintf("Target Position = %f mm (%d steps)", cmd.Value, steps)

	case Resume:
		resumed, err := m.Resume()
		switch {
		case err != nil:
			return replyFor(err)
		case !resumed:
			return "Nothing to resume"
		}
		return "Resuming"

	case Pause:
		m.Pause()
		return "Pausing"

	case Home:
		if err := m.Home(); err != nil {
			return replyFor(err)
		}
		return "Going Home"

	case QueryHome:
		asserted, countdown := m.LimitState(motion.Home)
		if asserted {
			return fmt.Sprintf("Is Home: %d", countdown)
		}
		return fmt.Sprintf("Not Home: %d", countdown)

	case QueryEnd:
		asserted, countdown := m.LimitState(motion.End)
		if asserted {
			return fmt.Sprintf("Is End: %d", countdown)
		}
		return fmt.Sprintf("Not End: %d", countdown)

	case QueryFeedrate:
		f, delay := m.Feedrate()
		return fmt.Sprintf("Current Feedrate = %f mm/min (delay = %f s)", f, delay)

	case SetFeedrate:
		if err := m.SetFeedrate(cmd.Value); err != nil {
			return replyFor(err)
		}
		f, delay := m.Feedrate()
		return fmt.Sprintf("New Feedrate = %f mm/min (delay = %f s)", f, delay)
	}
	return ReplyUnrecognized
}

// replyFor turns a refused operation into its reply line.
func replyFor(err error) string {
	var blocked *motion.BlockedError
	switch {
	case errors.As(err, &blocked):
		if blocked.Direction == motion.Forward {
			return "Can't move forward, because end button is pressed"
		}
		return "Can't move backward, because start button is pressed"
	case errors.Is(err, motion.ErrNegativeTarget):
		return "Negative Positions not allowed"
	case errors.Is(err, motion.ErrAlreadyHome):
		return "Already Home"
	case errors.Is(err, motion.ErrInvalidFeedrate):
		return "Feedrate must be positive"
	case errors.Is(err, motion.ErrNegativeDistance):
		return "Automatic Move Distance must not be negative"
	case errors.Is(err, motion.ErrNegativeInterval):
		return "Automatic Move Interval must not be negative"
	case errors.Is(err, motion.ErrOutOfRange):
		return ReplyOutOfRange
	case errors.Is(err, motion.ErrMotorHeld):
		return "Motor disabled, taking a photo"
	}
	debug.Error(err)
	return "Error: " + err.Error()
}

// seconds converts v to a duration. ok is false when it does not fit.
func seconds(v float64) (d time.Duration, ok bool) {
	ns := v * float64(time.Second)
	if ns >= math.MaxInt64 || ns <= math.MinInt64 {
		return 0, false
	}
	return time.Duration(ns), true
}

// Handler parses and dispatches requests from any transport and logs
// each exchange.
type Handler struct {
	m Machine
}

// NewHandler returns a Handler executing requests on m.
func NewHandler(m Machine) *Handler {
	return &Handler{m: m}
}

// Handle answers one request line received from source.
func (h *Handler) Handle(source, line string) string {
	reply := Dispatch(h.m, Parse(line))
	debug.Command(source, line, reply)
	return reply
}
