// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"net"
	"net/http"

	"github.com/packetd/h1conn/logger"
)

// runEchoPeer serves one HTTP/1.1 connection over peerConn, answering
// every request with a small canned body so the demo has something to
// talk to without reaching out to the network.
func runEchoPeer(peerConn net.Conn) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-Peer", "h1conn-demo")
		fmt.Fprintf(w, "hello from the demo peer: %s %s\n", r.Method, r.URL.Path)
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(&singleConnListener{conn: peerConn}); err != nil {
			logger.Debugf("h1conn: demo echo peer stopped: %v", err)
		}
	}()
}

// singleConnListener hands out exactly one pre-established connection
// and then blocks forever, since http.Server.Serve expects to be able
// to call Accept repeatedly.
type singleConnListener struct {
	conn   net.Conn
	served bool
	block  chan struct{}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if !l.served {
		l.served = true
		return l.conn, nil
	}
	if l.block == nil {
		l.block = make(chan struct{})
	}
	<-l.block
	return nil, net.ErrClosed
}

func (l *singleConnListener) Close() error {
	if l.block != nil {
		select {
		case <-l.block:
		default:
			close(l.block)
		}
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }
