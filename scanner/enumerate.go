package scanner

import (
	"errors"
	"fmt"
	"iter"
	"math/big"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// ErrHostBitsSet is returned for a CIDR whose address has bits set beyond the prefix.
var ErrHostBitsSet = errors.New("address has host bits set")

// DefaultMaxHosts caps how many addresses one scan may enqueue when no
// other limit is configured.
const DefaultMaxHosts = 1 << 20

// HostLimitError reports ranges that together cover more hosts than allowed.
type HostLimitError struct {
	Hosts *big.Int
	Limit int64
}

func (e *HostLimitError) Error() string {
	return fmt.Sprintf("ranges cover %s hosts, limit is %d", e.Hosts, e.Limit)
}

// InvalidRangeError reports a network range that could not be parsed.
type InvalidRangeError struct {
	Input string
	Err   error
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %q: %v", e.Input, e.Err)
}

func (e *InvalidRangeError) Unwrap() error {
	return e.Err
}

// NetworkRange is a validated block of addresses.
type NetworkRange struct {
	prefix netip.Prefix
}

// ParseRange parses CIDR notation ("10.0.0.0/24", "2001:db8::/120") or a bare
// address, which is treated as a single-host range.
func ParseRange(s string) (NetworkRange, error) {
	input := strings.TrimSpace(s)
	if input == "" {
		return NetworkRange{}, &InvalidRangeError{Input: s, Err: errors.New("empty range")}
	}

	if !strings.Contains(input, "/") {
		addr, err := netip.ParseAddr(input)
		if err != nil {
			return NetworkRange{}, &InvalidRangeError{Input: s, Err: err}
		}
		if addr.Zone() != "" {
			return NetworkRange{}, &InvalidRangeError{Input: s, Err: errors.New("zoned addresses are not supported")}
		}
		return NetworkRange{prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
	}

	prefix, err := netip.ParsePrefix(input)
	if err != nil {
		return NetworkRange{}, &InvalidRangeError{Input: s, Err: err}
	}
	if prefix.Masked() != prefix {
		return NetworkRange{}, &InvalidRangeError{Input: s, Err: ErrHostBitsSet}
	}
	return NetworkRange{prefix: prefix}, nil
}

// Prefix returns the underlying prefix.
func (r NetworkRange) Prefix() netip.Prefix {
	return r.prefix
}

func (r NetworkRange) String() string {
	return r.prefix.String()
}

// excluded reports how many addresses are dropped at each end of the block.
// IPv4 loses network and broadcast, IPv6 loses the subnet-router anycast
// address. /31, /32, /127 and /128 keep every address.
func (r NetworkRange) excluded() (low, high int) {
	bits := r.prefix.Addr().BitLen()
	if r.prefix.Bits() >= bits-1 {
		return 0, 0
	}
	if r.prefix.Addr().Is4() {
		return 1, 1
	}
	return 1, 0
}

func (r NetworkRange) bounds() (first, last netip.Addr) {
	block := netipx.RangeOfPrefix(r.prefix)
	first, last = block.From(), block.To()
	low, high := r.excluded()
	if low == 1 {
		first = first.Next()
	}
	if high == 1 {
		last = last.Prev()
	}
	return first, last
}

// Hosts yields every usable host address of the range in ascending order.
// Addresses are produced on demand; ranging over the sequence again starts
// from the first host.
func (r NetworkRange) Hosts() iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		if !r.prefix.IsValid() {
			return
		}
		first, last := r.bounds()
		for addr := first; addr.IsValid(); addr = addr.Next() {
			if !yield(addr) || addr == last {
				return
			}
		}
	}
}

// HostCount returns the number of addresses Hosts yields, without iterating.
func (r NetworkRange) HostCount() *big.Int {
	if !r.prefix.IsValid() {
		return new(big.Int)
	}
	size := r.prefix.Addr().BitLen() - r.prefix.Bits()
	count := new(big.Int).Lsh(big.NewInt(1), uint(size))
	low, high := r.excluded()
	return count.Sub(count, big.NewInt(int64(low+high)))
}

// Enumerate parses every range in inputs. Invalid entries are returned as
// errors alongside the ranges that did parse; one bad entry never drops the others.
func Enumerate(inputs []string) ([]NetworkRange, []error) {
	ranges := make([]NetworkRange, 0, len(inputs))
	var errs []error
	for _, in := range inputs {
		r, err := ParseRange(in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges, errs
}

// CheckHostLimit sums the host counts of ranges and fails with a
// *HostLimitError when the total exceeds limit.
func CheckHostLimit(ranges []NetworkRange, limit int64) (*big.Int, error) {
	total := new(big.Int)
	for _, r := range ranges {
		total.Add(total, r.HostCount())
	}
	if total.Cmp(big.NewInt(limit)) > 0 {
		return total, &HostLimitError{Hosts: total, Limit: limit}
	}
	return total, nil
}
