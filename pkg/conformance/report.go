package conformance

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Report is a serializable summary of one case run.
type Report struct {
	ID          string        `yaml:"id"`
	Case        string        `yaml:"case"`
	Scenario    string        `yaml:"scenario"`
	Normal      int           `yaml:"normal_outputs"`
	DTX         int           `yaml:"dtx_outputs"`
	NormalBytes int           `yaml:"normal_bytes"`
	DTXBytes    int           `yaml:"dtx_bytes"`
	DTXPackets  uint32        `yaml:"dtx_rtp_packets"`
	Talkspurts  int           `yaml:"dtx_talkspurts"`
	Ratio       float64       `yaml:"ratio"`
	MaxRatio    float64       `yaml:"max_ratio"`
	Passed      bool          `yaml:"passed"`
	Error       string        `yaml:"error,omitempty"`
	Elapsed     time.Duration `yaml:"elapsed"`
}

// NewReport summarizes a case outcome. res may be nil when the run failed
// before producing anything.
func NewReport(c Case, res *Result, err error) Report {
	r := Report{Case: c.Name, Scenario: c.Scenario.Name, Passed: err == nil}
	if err != nil {
		r.Error = err.Error()
	}
	if res == nil {
		return r
	}
	r.ID = res.ID
	r.Scenario = res.Scenario.Name
	r.Normal = res.Normal.Count()
	r.DTX = res.DTX.Count()
	r.NormalBytes = res.Normal.Bytes
	r.DTXBytes = res.DTX.Bytes
	r.DTXPackets = res.DTX.RTP.Packets
	r.Talkspurts = res.DTX.RTP.Talkspurts
	r.MaxRatio = res.Scenario.MaxRatio
	if r.Normal > 0 {
		r.Ratio = float64(r.DTX) / float64(r.Normal)
	}
	r.Elapsed = res.Elapsed
	return r
}

// WriteReports writes reports as a YAML sequence.
func WriteReports(w io.Writer, reports []Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(reports); err != nil {
		return err
	}
	return enc.Close()
}
