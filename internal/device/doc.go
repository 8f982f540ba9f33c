// Package device holds the transport-neutral error taxonomy shared by the BLE
// transport implementations and the scanner.
//
// Transport errors are normalized into:
//   - NotFoundError for services and characteristics missing on a peer
//   - ConnectionError states compared with errors.Is
//   - ErrTimeout and ErrUnsupported for operation failures
//
// The go-ble backed transport lives in the goble subpackage.
package device
