// Package mitv integrates Xiaomi TVs over their local HTTP control
// port as an assumed-state vendor adapter.
//
// The TV's control API accepts keyevents and source changes but never
// reports state, so the adapter keeps its own projection per device:
// fetches return that projection marked Assumed with availability from
// a reachability probe, and every apply returns an assumed result.
//
// Two quirks of the hardware shape the behaviour:
//
//   - Off is sleep. A TV that is fully powered down ignores the
//     network, so a power-off command walks the on-screen power menu
//     into sleep and a power-on sends the wake keyevent.
//   - Volume is relative. The control port only steps volume up or
//     down, so an absolute volume command is realised as a keyevent
//     sequence from the assumed current level.
package mitv
