package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// SLMPDeviceType describes one MELSEC device family.
type SLMPDeviceType struct {
	// Symbol is the device prefix, e.g. "D".
	Symbol string

	// Code is the binary device code sent in 3E frames.
	Code byte

	// Base is the radix of the device number (10 or 16).
	Base int

	// Bit reports a bit device (read here in word units, 16 points per word).
	Bit bool
}

// slmpDeviceTypes lists the supported devices, longest symbol first so that
// "SD" wins over "D" during prefix matching.
var slmpDeviceTypes = []SLMPDeviceType{
	{Symbol: "ZR", Code: 0xB0, Base: 10},
	{Symbol: "SD", Code: 0xA9, Base: 10},
	{Symbol: "SM", Code: 0x91, Base: 10, Bit: true},
	{Symbol: "SW", Code: 0xB5, Base: 16},
	{Symbol: "TN", Code: 0xC2, Base: 10},
	{Symbol: "CN", Code: 0xC5, Base: 10},
	{Symbol: "D", Code: 0xA8, Base: 10},
	{Symbol: "W", Code: 0xB4, Base: 16},
	{Symbol: "R", Code: 0xAF, Base: 10},
	{Symbol: "Z", Code: 0xCC, Base: 10},
	{Symbol: "M", Code: 0x90, Base: 10, Bit: true},
	{Symbol: "L", Code: 0x92, Base: 10, Bit: true},
	{Symbol: "B", Code: 0xA0, Base: 16, Bit: true},
}

// maxSLMPDeviceNumber is the largest number encodable in the 3-byte field.
const maxSLMPDeviceNumber = 0xFFFFFF

// SLMPAddress is a parsed device address such as "D100".
type SLMPAddress struct {
	Device SLMPDeviceType
	Number uint32
}

// String formats the address in MELSEC notation.
func (a SLMPAddress) String() string {
	if a.Device.Base == 16 {
		return fmt.Sprintf("%s%X", a.Device.Symbol, a.Number)
	}
	return fmt.Sprintf("%s%d", a.Device.Symbol, a.Number)
}

// ParseSLMPAddress parses a MELSEC device address. Parsing is
// case-insensitive.
func ParseSLMPAddress(s string) (SLMPAddress, error) {
	in := strings.ToUpper(strings.TrimSpace(s))

	for _, dt := range slmpDeviceTypes {
		if !strings.HasPrefix(in, dt.Symbol) {
			continue
		}
		digits := in[len(dt.Symbol):]
		if digits == "" {
			return SLMPAddress{}, fmt.Errorf("%w: %q has no device number", ErrInvalidDevice, s)
		}
		n, err := strconv.ParseUint(digits, dt.Base, 32)
		if err != nil || n > maxSLMPDeviceNumber {
			return SLMPAddress{}, fmt.Errorf("%w: %q: bad base-%d device number", ErrInvalidDevice, s, dt.Base)
		}
		return SLMPAddress{Device: dt, Number: uint32(n)}, nil
	}

	return SLMPAddress{}, fmt.Errorf("%w: %q: unknown device", ErrInvalidDevice, s)
}
