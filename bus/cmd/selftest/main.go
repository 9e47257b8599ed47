// On-target smoke test for the message bus. Flash it when a toolchain or
// scheduler bump makes bus behaviour suspect; it runs the same checks the
// host tests cover, but under the tinygo runtime the node actually uses.
//
//	tinygo flash -target=pico ./bus/cmd/selftest
package main

import (
	"context"
	"sort"
	"time"

	"magnode-go/bus"
	"magnode-go/x/conv"
)

type check struct {
	name string
	run  func() bool
}

func main() {
	// Let USB CDC enumerate so nothing is lost from the report.
	time.Sleep(250 * time.Millisecond)

	checks := []check{
		{"pubsub", checkPubSub},
		{"retained_replay", checkRetainedReplay},
		{"retained_clear", checkRetainedClear},
		{"wildcard_plus", checkWildcardPlus},
		{"wildcard_hash", checkWildcardHash},
		{"request_reply", checkRequestReply},
		{"request_timeout", checkRequestTimeout},
		{"reply_without_replyto", checkReplyWithoutReplyTo},
	}

	println("bus selftest:", len(checks), "checks")
	failed := 0
	for _, c := range checks {
		if c.run() {
			println("  ok  ", c.name)
		} else {
			println("  FAIL", c.name)
			failed++
		}
		time.Sleep(10 * time.Millisecond)
	}
	var buf [8]byte
	if failed == 0 {
		println("bus selftest: all passed")
	} else {
		println("bus selftest:", string(conv.Itoa(buf[:], int64(failed))), "failed")
	}
	for {
		time.Sleep(time.Hour)
	}
}

// ---- helpers ----

func await(sub *bus.Subscription, want string, d time.Duration) bool {
	select {
	case m := <-sub.Channel():
		s, ok := m.Payload.(string)
		return ok && s == want
	case <-time.After(d):
		return false
	}
}

func quiet(sub *bus.Subscription, d time.Duration) bool {
	select {
	case <-sub.Channel():
		return false
	case <-time.After(d):
		return true
	}
}

func gather(sub *bus.Subscription, n int, d time.Duration) ([]string, bool) {
	var got []string
	deadline := time.Now().Add(d)
	for len(got) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				got = append(got, s)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	sort.Strings(got)
	return got, len(got) == n
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---- checks ----

func checkPubSub() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	sub := c.Subscribe(bus.T("hal", "state"))
	c.Publish(c.NewMessage(bus.T("hal", "state"), "ready", false))
	return await(sub, "ready", 100*time.Millisecond)
}

func checkRetainedReplay() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	// Config published before the subscriber exists must still arrive.
	c.Publish(c.NewMessage(bus.T("config", "hal"), "cfg1", true))
	sub := c.Subscribe(bus.T("config", "hal"))
	return await(sub, "cfg1", 100*time.Millisecond)
}

func checkRetainedClear() bool {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	c.Publish(c.NewMessage(bus.T("hal", "capability", "gpio", 0, "info"), "doc", true))
	c.Publish(c.NewMessage(bus.T("hal", "capability", "gpio", 1, "info"), "keep", true))
	// nil payload clears the slot; only the other doc replays.
	c.Publish(c.NewMessage(bus.T("hal", "capability", "gpio", 0, "info"), nil, true))
	sub := c.Subscribe(bus.T("hal", "capability", "#"))
	got, ok := gather(sub, 1, 200*time.Millisecond)
	return ok && sameStrings(got, []string{"keep"}) && quiet(sub, 50*time.Millisecond)
}

func checkWildcardPlus() bool {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	values := c.Subscribe(bus.T("hal", "capability", "+", "+", "value"))
	other := c.Subscribe(bus.T("hal", "capability", "+", "+", "event"))

	c.Publish(c.NewMessage(bus.T("hal", "capability", "magnetic_field", 0, "value"), "v0", false))
	if !await(values, "v0", 100*time.Millisecond) {
		return false
	}
	if !quiet(other, 50*time.Millisecond) {
		return false
	}
	// "+" is one level exactly; a short topic matches nothing here.
	c.Publish(c.NewMessage(bus.T("hal", "capability", "value"), "short", false))
	return quiet(values, 50*time.Millisecond)
}

func checkWildcardHash() bool {
	b := bus.NewBus(16)
	c := b.NewConnection("selftest")
	all := c.Subscribe(bus.T("hal", "#"))
	caps := c.Subscribe(bus.T("hal", "capability", "#"))

	c.Publish(c.NewMessage(bus.T("hal", "state"), "s", false))
	if !await(all, "s", 100*time.Millisecond) || !quiet(caps, 50*time.Millisecond) {
		return false
	}
	c.Publish(c.NewMessage(bus.T("hal", "capability", "gpio", 1, "event"), "e", false))
	return await(all, "e", 100*time.Millisecond) && await(caps, "e", 100*time.Millisecond)
}

func checkRequestReply() bool {
	b := bus.NewBus(8)
	ui := b.NewConnection("ui")
	hal := b.NewConnection("hal")

	ctrl := bus.T("hal", "capability", "gpio", 0, "control", "get")
	sub := hal.Subscribe(ctrl)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if m, ok := <-sub.Channel(); ok {
			hal.Reply(m, "level=1", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	rep, err := ui.RequestWait(ctx, ui.NewMessage(ctrl, nil, false))
	hal.Unsubscribe(sub)
	<-done
	if err != nil {
		return false
	}
	s, ok := rep.Payload.(string)
	return ok && s == "level=1"
}

func checkRequestTimeout() bool {
	b := bus.NewBus(4)
	ui := b.NewConnection("ui")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ui.RequestWait(ctx, ui.NewMessage(bus.T("nobody", "home"), nil, false))
	return err != nil
}

func checkReplyWithoutReplyTo() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	sub := c.Subscribe(bus.T("plain"))
	c.Publish(c.NewMessage(bus.T("plain"), "m", false))
	select {
	case m := <-sub.Channel():
		// Replying to a plain publish must be a no-op, not a crash.
		c.Reply(m, "ignored", false)
		return quiet(sub, 50*time.Millisecond)
	case <-time.After(100 * time.Millisecond):
		return false
	}
}
