package landmark

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Replay publishes JSON-lines frames from r into q, sleeping between frames
// according to their recorded timestamps divided by speed. Speed <= 0 means
// real time. Blank lines are skipped; malformed lines abort with an error
// naming the line.
//
// Replay returns the number of frames published. It stops early when ctx is
// cancelled or the queue is closed.
func Replay(ctx context.Context, r io.Reader, q *Queue, speed float64) (int, error) {
	if speed <= 0 {
		speed = 1
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		n      int
		line   int
		prevTS time.Time
		timer  *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		f, err := Decode(data, time.Now())
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}

		if !prevTS.IsZero() {
			if gap := f.Timestamp.Sub(prevTS); gap > 0 {
				wait := time.Duration(float64(gap) / speed)
				if timer == nil {
					timer = time.NewTimer(wait)
				} else {
					timer.Reset(wait)
				}
				select {
				case <-ctx.Done():
					return n, ctx.Err()
				case <-timer.C:
				}
			}
		}
		prevTS = f.Timestamp

		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !q.Publish(f) {
			return n, nil
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("landmark: read replay: %w", err)
	}
	slog.Debug("replay finished", "frames", n)
	return n, nil
}
