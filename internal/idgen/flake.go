// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package idgen produces the identifiers used for connections, inbound
// messages, and the process instance.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/sony/sonyflake"
)

var DefaultFlakeGenerator *SonyFlakeGenerator

func init() {
	var err error
	DefaultFlakeGenerator, err = NewFlakeGenerator()
	if err != nil {
		panic(err)
	}
}

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

var flakeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFlakeGenerator derives the machine id from the host's private IPv4
// address, or from its hostname when it has none.
func NewFlakeGenerator() (*SonyFlakeGenerator, error) {
	return newFlakeGenerator(nil, hostnameMachineID)
}

// newFlakeGenerator uses primary for the machine id (nil selects the private
// IPv4 default) and retries with fallback if that fails.
func newFlakeGenerator(primary, fallback func() (uint16, error)) (*SonyFlakeGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: flakeEpoch, MachineID: primary})
	if err != nil {
		slog.Warn("Falling back to hostname derived flake machine id", slog.Any("error", err))
		sf, err = sonyflake.New(sonyflake.Settings{StartTime: flakeEpoch, MachineID: fallback})
	}
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

func hostnameMachineID() (uint16, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uint16(rand.Uint32()), nil
	}
	return machineIDFor(host), nil
}

// machineIDFor folds an FNV-1a hash of name into 16 bits.
func machineIDFor(name string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum32()
	return uint16(sum>>16) ^ uint16(sum)
}

// NextID returns a positive int64 that increases roughly in time order.
func (g *SonyFlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NextMessageID returns a short lowercase id for an inbound message that
// did not carry one from its transport.
func (g *SonyFlakeGenerator) NextMessageID() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(g.NextID()))
	return strings.ToLower(b32.EncodeToString(buf[:]))
}

// NextMessageID uses the default generator.
func NextMessageID() string {
	return DefaultFlakeGenerator.NextMessageID()
}
