// Package schedule holds the pure time arithmetic of the timer: parsing
// "H:MM:SS" values, placing the first fire time on the time-of-day grid,
// and deciding whether a check falls inside the due window.
//
// The window is period/20 wide and the loop checks every period/100, so a
// healthy loop sees several checks inside each window but fires once.
package schedule
