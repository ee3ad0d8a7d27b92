// Package scan turns the multiplexed analog sensor matrix into filtered,
// calibrated per-channel pressure. It is the sole writer of channel state;
// consumers get copies.
package scan

// Port is the electrical backend: whatever actually drives the mux
// control lines and samples the analog inputs. The real GPIO/ADC backend
// lives with the board support code; tests and the daemon's -hw=false
// mode use the Emulator.
//
// The scan package is built against this interface only, so it compiles
// and tests without any board support present.
type Port interface {
	// Select drives the four address lines for lane as seen by bank.
	// Shared-select wiring has a single set of lines; implementations
	// ignore bank in that case.
	Select(bank int, lane uint8)

	// Enable toggles a bank's enable line. Only meaningful on
	// shared-select wiring; independent wiring never calls it.
	Enable(bank int, on bool)

	// Read samples the analog line of bank and returns the raw
	// conversion result.
	Read(bank int) uint16

	// Settle blocks for the mux settle time after the select lines
	// changed, at least 10us on real hardware.
	Settle()
}
