// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-lpc/xfer/bus"
	mail "gopkg.in/gomail.v2"
)

// alerter sends an alert when a bus fails max sequences in a row.
type alerter struct {
	max  int
	send func(name string, st bus.Status, n int)

	mu    sync.Mutex
	fails map[string]int
}

func newAlerter(max int, send func(name string, st bus.Status, n int)) *alerter {
	return &alerter{
		max:   max,
		send:  send,
		fails: make(map[string]int),
	}
}

func (a *alerter) update(name string, st bus.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch st.State {
	case bus.Completed:
		a.fails[name] = 0
	case bus.Failed:
		a.fails[name]++
		if a.max > 0 && a.fails[name] == a.max {
			a.send(name, st, a.fails[name])
		}
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(name string, st bus.Status, n int) {
	log.Printf("bus %q: %d failed sequences in a row (last: %v)", name, n, st.Err)

	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[xfer-pwr] bus alert: %q", name))
	msg.SetBody("text/plain", fmt.Sprintf("bus: %q\nfailures: %d\nlast: %v",
		name, n, st,
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
