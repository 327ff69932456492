package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"callscribe/audio"
	"callscribe/capture"
	"callscribe/log"
	"callscribe/pipeline"
)

// runTestMode drives the pipeline from line commands on in:
//
//	START [id]       start a session (generated id when omitted)
//	STOP             stop the active session
//	WAIT_AUDIO_DONE  block until every replay source is exhausted
//	SLEEP <ms>
//	METRICS          print one key=value snapshot line to out
//	QUIT
func runTestMode(ctx context.Context, p *pipeline.Pipeline, sink EventSink, watch *silenceWatch,
	replays []*audio.FileOpener, in io.Reader, out io.Writer) int {

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	code := 0
	active := ""
	stopActive := func() {
		if active == "" {
			return
		}
		if err := p.Stop(active); err != nil {
			log.Errorf("session stop: %v", err)
			fmt.Fprintf(out, "ERROR stop: %v\n", err)
			code = 1
		}
		sink.SessionStopped(active)
		active = ""
	}
	defer stopActive()

	for {
		var cmd string
		select {
		case <-ctx.Done():
			return code
		case l, ok := <-lines:
			if !ok {
				return code
			}
			cmd = l
		}

		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "START":
			requested := ""
			if len(fields) > 1 {
				requested = fields[1]
			}
			id, err := newSessionID(requested)
			if err == nil {
				watch.Reset()
				err = p.Start(ctx, id)
			}
			if err != nil {
				fmt.Fprintf(out, "ERROR start: %v\n", err)
				code = 1
				continue
			}
			active = id
			sink.SessionStarted(id)
		case "STOP":
			stopActive()
		case "WAIT_AUDIO_DONE":
			done := replayDone(replays)
			if done == nil {
				fmt.Fprintln(out, "ERROR no replay source")
				code = 1
				continue
			}
			select {
			case <-done:
			case <-ctx.Done():
				return code
			}
		case "SLEEP":
			if len(fields) > 1 {
				if ms, err := strconv.Atoi(fields[1]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		case "METRICS":
			fmt.Fprintln(out, metricsLine(p.Metrics()))
		case "QUIT":
			return code
		default:
			fmt.Fprintf(out, "ERROR unknown command %q\n", cmd)
		}
	}
}

func metricsLine(s pipeline.Snapshot) string {
	return fmt.Sprintf("METRICS running=%v mic_chunks=%d loopback_chunks=%d windows=%d failures=%d dropped=%d drift_ms=%d mic_mode=%s loopback_mode=%s",
		s.Running,
		s.Sources[capture.Mic].Chunks, s.Sources[capture.Loopback].Chunks,
		s.Windows, s.InferenceFailures, s.Dropped, s.SyncDriftMs,
		s.Sources[capture.Mic].Mode, s.Sources[capture.Loopback].Mode)
}
