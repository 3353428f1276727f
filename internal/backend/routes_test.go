package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diggerhq/digger/statebackend/internal/config"
)

func defaultProtocol() config.Protocol {
	return config.Protocol{UpdateMethod: "POST", LockMethod: "LOCK", UnlockMethod: "UNLOCK"}
}

func TestRouteTableMatch(t *testing.T) {
	withSuffix := defaultProtocol()
	withSuffix.LockSuffix = "/lock"
	withSuffix.UnlockSuffix = "/unlock"

	tests := []struct {
		name     string
		protocol config.Protocol
		method   string
		path     string
		wantOp   Operation
		wantPath string
		wantOK   bool
	}{
		{name: "get", protocol: defaultProtocol(), method: "GET", path: "/envs/prod", wantOp: OpRead, wantPath: "/envs/prod", wantOK: true},
		{name: "post", protocol: defaultProtocol(), method: "POST", path: "/envs/prod", wantOp: OpWrite, wantPath: "/envs/prod", wantOK: true},
		{name: "delete", protocol: defaultProtocol(), method: "DELETE", path: "/envs/prod", wantOp: OpDelete, wantPath: "/envs/prod", wantOK: true},
		{name: "lock", protocol: defaultProtocol(), method: "LOCK", path: "/envs/prod", wantOp: OpLock, wantPath: "/envs/prod", wantOK: true},
		{name: "unlock", protocol: defaultProtocol(), method: "UNLOCK", path: "/envs/prod", wantOp: OpUnlock, wantPath: "/envs/prod", wantOK: true},
		{name: "put is not routed", protocol: defaultProtocol(), method: "PUT", path: "/envs/prod", wantOp: OpUnmatched},
		{name: "methods are case sensitive", protocol: defaultProtocol(), method: "lock", path: "/envs/prod", wantOp: OpUnmatched},
		{name: "lock suffix stripped", protocol: withSuffix, method: "LOCK", path: "/envs/prod/lock", wantOp: OpLock, wantPath: "/envs/prod", wantOK: true},
		{name: "unlock suffix stripped", protocol: withSuffix, method: "UNLOCK", path: "/envs/prod/unlock", wantOp: OpUnlock, wantPath: "/envs/prod", wantOK: true},
		{name: "lock without suffix", protocol: withSuffix, method: "LOCK", path: "/envs/prod", wantOp: OpUnmatched},
		{name: "unlock on lock suffix", protocol: withSuffix, method: "UNLOCK", path: "/envs/prod/lock", wantOp: OpUnmatched},
		{name: "suffix only", protocol: withSuffix, method: "LOCK", path: "/lock", wantOp: OpUnmatched},
		{name: "get keeps suffix", protocol: withSuffix, method: "GET", path: "/envs/prod/lock", wantOp: OpRead, wantPath: "/envs/prod/lock", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, path, ok := newRouteTable(tt.protocol).match(tt.method, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOp, op)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestRouteTableFirstMatchWins(t *testing.T) {
	p := defaultProtocol()
	p.UpdateMethod = "PUT"
	p.LockMethod = "PUT"

	op, _, ok := newRouteTable(p).match("PUT", "/a")
	assert.True(t, ok)
	assert.Equal(t, OpWrite, op)
	assert.Equal(t, []string{"GET", "PUT", "DELETE", "UNLOCK"}, newRouteTable(p).methods())
}
