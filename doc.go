// Package legion controls a four-legged, twelve-servo walking robot.
//
// Foot positions are interpolated toward their targets on a fixed tick,
// solved to joint angles and written to the servos. Walking, turning,
// gestures and dancing are sequences of foot targets.
//
// # Installation
//
//	go install github.com/gwillem/legion/cmd/legion@latest
//
// # Usage
//
// First, run setup to pick the servo backend and trim the joints:
//
//	legion setup
//
// Then run the demonstration routine, or serve remote control commands:
//
//	legion demo
//	legion serve --addr :5000
//
// Without a configuration file every command runs against a simulated
// backend.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/legion: CLI with setup, scan, center, demo, serve, track and monitor commands
//   - pkg/geometry: Body dimensions and derived turning pivots
//   - pkg/kinematics: Leg identities and the inverse kinematics solver
//   - pkg/actuator: Servo output interface with PCA9685 and Feetech backends
//   - pkg/motion: Trajectory interpolator and reach synchronization
//   - pkg/gait: Gait and gesture sequencer
//   - pkg/robot: Configuration, calibration and wiring
//   - pkg/relay: HTTP remote control
//   - pkg/tracker: Object following
//   - pkg/logging: Logger construction
package legion
