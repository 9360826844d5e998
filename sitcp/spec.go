// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sitcp

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-pix/pixdaq/dut"
)

// FromSpec builds a SiTCP transport from its topology entry.
//
// Recognized init keys: ip (required), udp_port, tcp_port,
// tcp_connection, timeout (Go duration string).
func FromSpec(spec dut.TransportSpec) (*Transport, error) {
	var (
		cfg Config
		err error
	)
	ip, ok := spec.Init["ip"].(string)
	if !ok || ip == "" {
		return nil, fmt.Errorf("sitcp: transport %q: missing init.ip", spec.Name)
	}
	cfg.IP = ip

	cfg.UDPPort, err = initInt(spec, "udp_port", 4660)
	if err != nil {
		return nil, err
	}
	cfg.TCPPort, err = initInt(spec, "tcp_port", 24)
	if err != nil {
		return nil, err
	}
	if v, ok := spec.Init["tcp_connection"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("sitcp: transport %q: invalid init.tcp_connection %v", spec.Name, v)
		}
		cfg.TCP = b
	}
	if v, ok := spec.Init["timeout"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("sitcp: transport %q: invalid init.timeout %v", spec.Name, v)
		}
		cfg.Timeout, err = time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("sitcp: transport %q: invalid init.timeout: %w", spec.Name, err)
		}
	}
	return New(spec.Name, cfg), nil
}

func initInt(spec dut.TransportSpec, key string, def int) (int, error) {
	v, ok := spec.Init[key]
	if !ok {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("sitcp: transport %q: invalid init.%s %q: %w", spec.Name, key, v, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("sitcp: transport %q: invalid init.%s %v", spec.Name, key, v)
	}
}
