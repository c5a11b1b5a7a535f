package resgroup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cargohold/cargohold/internal/stream"
)

// SourceType selects how a resource's bytes are located on read.
type SourceType int

const (
	// SourceLocalRelative reads base/relativePath.
	SourceLocalRelative SourceType = iota
	// SourceLocalCDN reads the uncompressed file at base/shard/location.
	SourceLocalCDN
	// SourceRemoteCDN fetches base/shard/location, gzip-encoded in transit.
	SourceRemoteCDN
)

// DestinationType mirrors the source kinds for writes.
type DestinationType int

const (
	DestLocalRelative DestinationType = iota
	DestLocalCDN
	// DestRemoteCDN stages the gzip-encoded file under the CDN layout.
	DestRemoteCDN
)

// Fetcher downloads a URL and returns the raw response bytes. The engine has
// no network stack of its own; callers supply one.
type Fetcher func(url string) ([]byte, error)

// SourceSettings locate resource bytes. BasePaths are tried in order; for
// SourceRemoteCDN they are URL bases.
type SourceSettings struct {
	Type      SourceType
	BasePaths []string

	// Fetch is required for SourceRemoteCDN.
	Fetch Fetcher

	// DownloadRetrySeconds bounds fetch retries with exponential backoff.
	DownloadRetrySeconds int
}

// DestinationSettings place resource bytes.
type DestinationSettings struct {
	Type     DestinationType
	BasePath string
}

// sourcePath resolves the location of r under one base.
func (r *Resource) sourcePath(t SourceType, base string) string {
	switch t {
	case SourceLocalRelative:
		return filepath.Join(base, filepath.FromSlash(r.RelativePath))
	case SourceRemoteCDN:
		return strings.TrimSuffix(base, "/") + "/" + Shard(r.Location) + "/" + r.Location
	default:
		return filepath.Join(base, Shard(r.Location), r.Location)
	}
}

// destinationPath resolves where r is written under dest.
func (r *Resource) destinationPath(dest DestinationSettings) string {
	if dest.Type == DestLocalRelative {
		return filepath.Join(dest.BasePath, filepath.FromSlash(r.RelativePath))
	}
	return filepath.Join(dest.BasePath, Shard(r.Location), r.Location)
}

// GetDataParams configure a repository read.
type GetDataParams struct {
	Source SourceSettings

	// ExpectedChecksum, when set, is verified against the decompressed
	// payload; mismatch fails with FAILED_TO_GENERATE_CHECKSUM.
	ExpectedChecksum string
}

// GetData reads the resource payload, dispatching on the source type and
// decompressing remote bytes.
func (r *Resource) GetData(params GetDataParams) ([]byte, error) {
	var firstErr error
	for _, base := range params.Source.BasePaths {
		var (
			data []byte
			err  error
		)
		switch params.Source.Type {
		case SourceRemoteCDN:
			data, err = r.fetchRemote(params.Source, base)
		default:
			data, err = os.ReadFile(r.sourcePath(params.Source.Type, base))
			if err != nil {
				err = errf(CodeFileNotFound, "%s", r.sourcePath(params.Source.Type, base))
			}
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if params.ExpectedChecksum != "" && stream.Md5Hex(data) != params.ExpectedChecksum {
			return nil, errf(CodeFailedToGenerateChecksum, "checksum mismatch for %s", r.RelativePath)
		}
		return data, nil
	}
	if firstErr == nil {
		firstErr = errc(CodeRequiredInputParameterNotSet)
	}
	return nil, firstErr
}

// fetchRemote downloads and decompresses one remote location, retrying with
// exponential backoff until the retry budget is spent.
func (r *Resource) fetchRemote(src SourceSettings, base string) ([]byte, error) {
	if src.Fetch == nil {
		return nil, errf(CodeRequiredInputParameterNotSet, "no fetcher configured for remote source")
	}
	url := r.sourcePath(SourceRemoteCDN, base)

	var (
		raw []byte
		err error
	)
	deadline := time.Now().Add(time.Duration(src.DownloadRetrySeconds) * time.Second)
	backoff := time.Second
	for {
		raw, err = src.Fetch(url)
		if err == nil {
			break
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, errf(CodeFileNotFound, "download failed: %s", url)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	data, derr := stream.GzipDecompress(raw)
	if derr != nil {
		return nil, errc(CodeFailedToCompressData)
	}
	return data, nil
}

// PutDataParams configure a repository write.
type PutDataParams struct {
	Destination DestinationSettings
}

// PutData writes the payload to the destination, gzip-encoding it for
// DestRemoteCDN staging.
func (r *Resource) PutData(params PutDataParams, data []byte) error {
	out := data
	if params.Destination.Type == DestRemoteCDN {
		compressed, err := stream.GzipCompress(data)
		if err != nil {
			return errc(CodeFailedToCompressData)
		}
		out = compressed
	}
	target := r.destinationPath(params.Destination)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errf(CodeFailedToSaveFile, "%s", target)
	}
	if err := os.WriteFile(target, out, 0o644); err != nil {
		return errf(CodeFailedToSaveFile, "%s", target)
	}
	return nil
}

// openPutStream opens a streaming writer at the destination path, compressing
// for DestRemoteCDN.
func (r *Resource) openPutStream(dest DestinationSettings) (putStream, error) {
	target := r.destinationPath(dest)
	if dest.Type == DestRemoteCDN {
		return stream.CreateCompressedFileOut(target)
	}
	return stream.CreateFileOut(target)
}

// putStream is the subset of the stream writers the repository hands out.
type putStream interface {
	Write(data []byte) error
	Finish() error
	Path() string
}

// GetDataStream streams the resource payload into sink without materializing
// it, falling back to buffered reads for remote sources.
func (r *Resource) GetDataStream(params GetDataParams, bufSize int, sink func(data []byte) error) error {
	if params.Source.Type == SourceRemoteCDN {
		data, err := r.GetData(params)
		if err != nil {
			return err
		}
		return sink(data)
	}
	var firstErr error
	for _, base := range params.Source.BasePaths {
		in, err := stream.OpenFileIn(r.sourcePath(params.Source.Type, base), bufSize)
		if err != nil {
			if firstErr == nil {
				firstErr = errf(CodeFailedToOpenFileStream, "%s", r.sourcePath(params.Source.Type, base))
			}
			continue
		}
		defer in.Close()
		for !in.Finished() {
			data, err := in.Read()
			if err != nil {
				return errc(CodeFailedToReadFromStream)
			}
			if err := sink(data); err != nil {
				return err
			}
		}
		return nil
	}
	if firstErr == nil {
		firstErr = errc(CodeRequiredInputParameterNotSet)
	}
	return firstErr
}
