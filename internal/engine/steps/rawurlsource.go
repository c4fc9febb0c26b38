package steps

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/xlog"
)

func init() {
	engine.Register(rawURLSourceKind{})
}

type rawURLSourceKind struct{}

func (rawURLSourceKind) Name() string { return "raw_url_source" }

func (rawURLSourceKind) IsSource() bool { return true }

func (rawURLSourceKind) RequiredTools() []string {
	return []string{"compare_secure_hashes", "cp", "curl", "dd", "pigz"}
}

func (rawURLSourceKind) DeclareConnections() *engine.ConnectionSet {
	cs := engine.NewConnectionSet()
	_ = cs.Add("out/raw", false, "", "")
	return cs
}

func (rawURLSourceKind) DeclareOptions() []engine.OptionSpec {
	return []engine.OptionSpec{
		{Name: "run-download-info", Type: engine.OptionMapping, Description: "run_id -> {filename, url, hashing-algorithm?, secure-hash?, uncompress?}."},
		{Name: "dd-blocksize", Type: engine.OptionScalar, Optional: true, Default: "256k"},
	}
}

var validHashAlgos = map[string]bool{
	"md5": true, "sha1": true, "sha224": true, "sha256": true, "sha384": true, "sha512": true,
}

// DeclareRuns mirrors raw_url_sources.py's single download-plan-per-run
// contract, including its dead derived-filename computation: the URL's
// basename names the temporary download file and drives the gzip
// checks, while the name derived from it (minus .gz when uncompressing)
// is only logged and then discarded in favor of the user-supplied
// filename option, exactly as upstream leaves it.
func (k rawURLSourceKind) DeclareRuns(ctx context.Context, inst *engine.Instance) ([]*engine.Run, error) {
	raw, ok := inst.OptionRaw("run-download-info")
	if !ok {
		return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info is required", engine.ErrConfiguration, inst.Name)
	}
	plans, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info must be a mapping", engine.ErrConfiguration, inst.Name)
	}

	ddBlocksize := inst.OptionString("dd-blocksize", "256k")

	runs := make([]*engine.Run, 0, len(plans))
	for runID, v := range plans {
		downloads, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info[%s] must be a mapping", engine.ErrConfiguration, inst.Name, runID)
		}

		if err := validateDownloadOpts(inst.Name, runID, downloads); err != nil {
			return nil, err
		}

		hashAlgo, _ := downloads["hashing-algorithm"].(string)
		secureHash, _ := downloads["secure-hash"].(string)
		uncompress, _ := downloads["uncompress"].(bool)
		rawURL, _ := downloads["url"].(string)
		filename, _ := downloads["filename"].(string)

		if hashAlgo != "" && !validHashAlgos[hashAlgo] {
			return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: invalid hashing-algorithm %q", engine.ErrConfiguration, inst.Name, runID, hashAlgo)
		}
		if secureHash != "" && hashAlgo == "" {
			return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: secure-hash set but hashing-algorithm missing", engine.ErrConfiguration, inst.Name, runID)
		}

		parsed, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: invalid url: %v", engine.ErrConfiguration, inst.Name, runID, err)
		}
		urlFilename := filepath.Base(parsed.Path)
		ext := filepath.Ext(urlFilename)
		isGzipped := ext == ".gz" || ext == ".gzip"
		if !isGzipped && uncompress {
			return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: uncompress requested for non-gzipped file %q", engine.ErrConfiguration, inst.Name, runID, urlFilename)
		}
		// Derived candidate, computed for parity with upstream and
		// otherwise unused: the filename option always wins below.
		derived := urlFilename
		if uncompress && isGzipped {
			derived = strings.TrimSuffix(urlFilename, ext)
		}
		xlog.Debug(ctx, "raw_url_source derived filename (unused, filename option wins)", "step", inst.Name, "run", runID, "derived", derived)

		filenameExt := filepath.Ext(filename)
		if isGzipped && uncompress && (filenameExt == ".gz" || filenameExt == ".gzip") {
			return nil, fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: filename %q should not end in .gz/.gzip when uncompress is set", engine.ErrConfiguration, inst.Name, runID, filename)
		}

		run := engine.NewRun(inst.Name, runID, inst.Destination)
		// Relative to the run's temp dir, where the executor looks for
		// announced outputs before moving them to the output dir.
		outFile := filename
		if err := run.AddOutputFile("out/raw", filename, nil); err != nil {
			return nil, err
		}

		tempFile := run.AddTemporaryFile(urlFilename, engine.DesignationOutput)

		download := engine.NewExecGroup("download")
		download.AddCommand(engine.CommandInfo{
			Argv:       []string{inst.ToolPath("curl"), rawURL},
			StdoutPath: tempFile,
			Label:      "curl",
		})
		run.AddExecGroup(download)

		if hashAlgo != "" && secureHash != "" {
			check := engine.NewExecGroup("check_hash")
			check.AddCommand(engine.CommandInfo{
				Argv:  []string{inst.ToolPath("compare_secure_hashes"), "--algorithm", hashAlgo, "--secure-hash", secureHash, tempFile},
				Label: "compare_secure_hashes",
			})
			run.AddExecGroup(check)
		}

		publish := engine.NewExecGroup("publish")
		if uncompress {
			publish.AddPipeline(engine.PipelineInfo{
				Label: "pigz_dd",
				Stages: []engine.CommandInfo{
					{Argv: []string{inst.ToolPath("pigz"), "--decompress", "--stdout", "--processes", "1", tempFile}},
					{Argv: []string{inst.ToolPath("dd"), "bs=" + ddBlocksize, "of=" + outFile}},
				},
			})
		} else {
			publish.AddCommand(engine.CommandInfo{
				Argv:  []string{inst.ToolPath("cp"), "--update", tempFile, outFile},
				Label: "cp",
			})
		}
		run.AddExecGroup(publish)

		runs = append(runs, run)
	}
	return runs, nil
}

var downloadOpts = map[string]bool{
	"filename": true, "hashing-algorithm": true, "secure-hash": true, "uncompress": true, "url": true,
}

func validateDownloadOpts(stepName, runID string, downloads map[string]any) error {
	for k := range downloads {
		if !downloadOpts[k] {
			return fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: unknown option %q", engine.ErrConfiguration, stepName, runID, k)
		}
	}
	for _, mandatory := range []string{"filename", "url"} {
		if _, ok := downloads[mandatory]; !ok {
			return fmt.Errorf("%w: raw_url_source %q: run-download-info[%s]: missing mandatory option %q", engine.ErrConfiguration, stepName, runID, mandatory)
		}
	}
	return nil
}
