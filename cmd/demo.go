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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/packetd/h1conn"
	"github.com/packetd/h1conn/common"
	"github.com/packetd/h1conn/confengine"
	"github.com/packetd/h1conn/internal/sigs"
	"github.com/packetd/h1conn/logger"
	"github.com/packetd/h1conn/metrics"
	"github.com/packetd/h1conn/server"
)

var (
	demoConfigPath string
	demoRequests   int
	demoExtra      map[string]string
)

func init() {
	serveDemoCmd.Flags().StringVar(&demoConfigPath, "config", "", "path to a YAML config file (connection/server/logger sections)")
	serveDemoCmd.Flags().IntVar(&demoRequests, "requests", 3, "number of demo requests to issue before exiting")
	serveDemoCmd.Flags().StringToStringVar(&demoExtra, "opt", nil, "ad-hoc key=value overrides, e.g. --opt requests=5")
	rootCmd.AddCommand(serveDemoCmd)
}

// resolveRequestCount lets --opt requests=N win over --requests,
// the same loosely-typed override bag common.Options exists for: a
// caller driving the demo from a script can pass one flag of k=v
// pairs instead of growing a dedicated flag per tunable.
func resolveRequestCount() int {
	opts := common.NewOptions()
	for k, v := range demoExtra {
		opts.Merge(k, v)
	}
	if n, err := opts.GetInt("requests"); err == nil && n > 0 {
		return n
	}
	return demoRequests
}

var serveDemoCmd = &cobra.Command{
	Use:   "serve-demo",
	Short: "Drive a Connection over an in-process HTTP/1.1 peer",
	Long: "serve-demo wires a Connection over an in-process byte pipeline against a toy " +
		"HTTP/1.1 echo peer, issuing a handful of GET requests and printing their responses. " +
		"It also starts the metrics/pprof server if a config file enables it.",
	RunE: runServeDemo,
}

func runServeDemo(cmd *cobra.Command, args []string) error {
	var conf *confengine.Config
	if demoConfigPath != "" {
		c, err := confengine.LoadConfigPath(demoConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		conf = c
	}

	if conf != nil {
		srv, err := server.New(conf)
		if err != nil {
			return fmt.Errorf("building metrics server: %w", err)
		}
		if srv != nil {
			srv.RegisterGetRoute("/metrics", promhttp.Handler().ServeHTTP)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					logger.Warnf("h1conn: demo metrics server stopped: %v", err)
				}
			}()
		}
	}

	metrics.RecordBuildInfo()
	go reportUptime()

	opts, err := h1conn.OptionsFromConfig(conf)
	if err != nil {
		return fmt.Errorf("loading connection options: %w", err)
	}

	collector := metrics.NewCollector()
	opts.Hooks = collector.Hooks()

	clientConn, peerConn := net.Pipe()
	runEchoPeer(peerConn)

	adapter := newConnAdapter(clientConn)
	conn := h1conn.NewConnection(adapter, opts)
	go adapter.run(conn)

	term := sigs.Terminate()
	n := resolveRequestCount()
requestLoop:
	for i := 0; i < n; i++ {
		select {
		case sig := <-term:
			logger.Warnf("h1conn: demo received %s, cutting the run short", sig)
			break requestLoop
		default:
		}
		if err := issueDemoRequest(conn, i); err != nil {
			logger.Errorf("h1conn: demo request %d failed: %v", i, err)
		}
	}

	conn.Close(h1conn.ErrCodeSuccess)
	<-conn.Done()
	if err := conn.Err(); err != nil {
		logger.Warnf("h1conn: demo connection ended with errors: %v", err)
	}
	return nil
}

func issueDemoRequest(conn *h1conn.Connection, i int) error {
	req := h1conn.NewRequest("GET", fmt.Sprintf("/demo/%d", i))
	req.Headers.Add("Host", "h1conn-demo.local")
	req.Headers.Add("Connection", "keep-alive")

	done := make(chan struct{})
	stream, err := conn.MakeRequest(req, h1conn.StreamCallbacks{
		OnComplete: func(resp *h1conn.Response, err error) {
			defer close(done)
			if err != nil {
				fmt.Printf("request %d failed: %v\n", i, err)
				return
			}
			fmt.Printf("request %d: status=%d\n", i, resp.Status)
		},
	})
	if err != nil {
		return err
	}
	if err := stream.Activate(); err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for response")
	}
	return nil
}

func reportUptime() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for range t.C {
		metrics.RecordUptime(float64(time.Now().Unix() - common.Started()))
	}
}
