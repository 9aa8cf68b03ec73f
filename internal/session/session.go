// Package session answers time-of-day questions for an intraday equity
// session: is the market open, may a new entry still be taken, is the forced
// square-off due. All functions are pure over the supplied clock value.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock holds the session boundaries as minutes from midnight, local time.
type Clock struct {
	open      int
	close     int
	cutoff    int
	squareOff int
}

// New parses "HH:MM" boundaries into a Clock.
func New(open, close, entryCutoff, squareOff string) (Clock, error) {
	var c Clock
	var err error
	if c.open, err = parseHHMM(open); err != nil {
		return c, fmt.Errorf("session open: %w", err)
	}
	if c.close, err = parseHHMM(close); err != nil {
		return c, fmt.Errorf("session close: %w", err)
	}
	if c.cutoff, err = parseHHMM(entryCutoff); err != nil {
		return c, fmt.Errorf("entry cutoff: %w", err)
	}
	if c.squareOff, err = parseHHMM(squareOff); err != nil {
		return c, fmt.Errorf("square off: %w", err)
	}
	if c.open >= c.close {
		return c, fmt.Errorf("session open %s not before close %s", open, close)
	}
	return c, nil
}

// IsOpen reports whether now falls inside the trading session.
func (c Clock) IsOpen(now time.Time) bool {
	m := minutes(now)
	return m >= c.open && m < c.close
}

// EntryAllowed reports whether a new entry may still be taken: the session is
// open and the entry cutoff has not been reached.
func (c Clock) EntryAllowed(now time.Time) bool {
	return c.IsOpen(now) && minutes(now) < c.cutoff
}

// SquareOffDue reports whether the forced exit time has been reached.
func (c Clock) SquareOffDue(now time.Time) bool {
	return minutes(now) >= c.squareOff
}

// SameTradingDay reports whether a and b fall on the same calendar date;
// daily counters reset when it turns false.
func SameTradingDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func minutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseHHMM(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", s)
	}
	return h*60 + m, nil
}
