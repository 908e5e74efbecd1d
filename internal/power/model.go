// Package power turns process and hardware samples into per-process power
// estimates.
package power

// Constants are the calibration values of the analytic power model.
type Constants struct {
	// Alpha is the switching activity factor.
	Alpha float64 `toml:"alpha" yaml:"alpha"`
	// CEff is the effective switched capacitance in farads.
	CEff float64 `toml:"c_eff" yaml:"c_eff"`
	// KLeak scales leakage with resident memory (watts per KB per volt).
	KLeak float64 `toml:"k_leak" yaml:"k_leak"`
}

// DefaultConstants returns the stock calibration.
func DefaultConstants() Constants {
	return Constants{
		Alpha: 0.3,
		CEff:  1.2e-9,
		KLeak: 5e-9,
	}
}

// Model evaluates the dynamic and leakage power equations. It is immutable
// and safe to share.
type Model struct {
	c Constants
}

// NewModel creates a Model with the given constants.
func NewModel(c Constants) *Model {
	return &Model{c: c}
}

// Constants returns the model's calibration.
func (m *Model) Constants() Constants {
	return m.c
}

// DynamicPower returns alpha * C_eff * V^2 * f * activity in milliwatts.
// activity is the CPU fraction in [0, 1]; inputs are not range-checked.
func (m *Model) DynamicPower(voltageV, freqHz, activity float64) float64 {
	return m.c.Alpha * m.c.CEff * voltageV * voltageV * freqHz * activity * 1e3
}

// LeakagePower returns k_leak * mem * V in milliwatts.
func (m *Model) LeakagePower(memKB int64, voltageV float64) float64 {
	return m.c.KLeak * float64(memKB) * voltageV * 1e3
}
