// Package updater orchestrates one firmware update run: resolve the target
// device, ensure the flashing tool, fetch and verify the newest release,
// then flash the OTA partition and reset the device. A run owns no state
// that outlives it; only the cached flashing tool survives between runs.
package updater
