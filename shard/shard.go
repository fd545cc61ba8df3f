// Guild to shard partitioning.
//
// Every process in the fleet owns a fixed set of shards for its whole lifetime. Global scans
// (expiry sweeps) drop any work whose guild does not route to an owned shard, so each guild's
// entities are handled by exactly one process as long as the fleet is configured without
// overlaps or gaps. Nothing here de-duplicates a misconfigured fleet.
package shard

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "shard configuration: " + e.Reason
}

var ErrInvalidGuildID = errors.New("invalid guild id")

// ID computes the platform's canonical shard index for a guild: the snowflake timestamp bits
// (everything above the low 22 bits) modulo the shard count.
func ID(guildID uint64, count uint16) uint16 {
	if count == 0 {
		return 0
	}
	return uint16((guildID >> 22) % uint64(count))
}

func ParseGuildID(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGuildID, s)
	}
	return v, nil
}

// Set is an immutable set of shard indexes.
type Set map[uint16]struct{}

func NewSet(ids ...uint16) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Contains(id uint16) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Sorted() []uint16 {
	out := make([]uint16, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Owns reports whether the guild routes to one of the owned shards.
func Owns(guildID uint64, count uint16, owned Set) bool {
	if count == 0 {
		return false
	}
	return owned.Contains(ID(guildID, count))
}

// Config is the process's slice of the fleet.
type Config struct {
	Count uint16
	Owned Set
}

func (c Config) Validate() error {
	if c.Count == 0 {
		return &ConfigurationError{Reason: "shard count must be positive"}
	}
	if len(c.Owned) == 0 {
		return &ConfigurationError{Reason: "no owned shards configured"}
	}
	for id := range c.Owned {
		if id >= c.Count {
			return &ConfigurationError{Reason: fmt.Sprintf("owned shard %d out of range for count %d", id, c.Count)}
		}
	}
	return nil
}

// OwnsGuild parses the guild id string and checks ownership. Unparseable ids are never owned.
func (c Config) OwnsGuild(guildID string) bool {
	id, err := ParseGuildID(guildID)
	if err != nil {
		return false
	}
	return Owns(id, c.Count, c.Owned)
}

// ParseSet parses "0,2,5-7" style shard lists.
func ParseSet(raw string) (Set, error) {
	s := NewSet()
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("bad shard id %q", part)}
		}
		end := start
		if isRange {
			end, err = strconv.ParseUint(strings.TrimSpace(hi), 10, 16)
			if err != nil || end < start {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("bad shard range %q", part)}
			}
		}
		for id := start; id <= end; id++ {
			s[uint16(id)] = struct{}{}
		}
	}
	return s, nil
}
