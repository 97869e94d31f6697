package usecase

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/custodian/internal/cipherstream"
	"github.com/semmidev/custodian/internal/domain"
)

// RunRestore creates a restore execution for a previously uploaded artifact
// and launches its pipeline: download, verify-and-unpack, engine restore.
func (r *Runner) RunRestore(ctx context.Context, jobID, artifactName string) (string, error) {
	if artifactName == "" {
		return "", domain.NewValidationError("restore requires an artifact name", nil)
	}
	exec, err := r.createExecution(ctx, jobID, domain.KindRestore, artifactName)
	if err != nil {
		return "", err
	}
	if err := r.Launch(ctx, exec); err != nil {
		return exec.ID, err
	}
	return exec.ID, nil
}

func (r *Runner) restorePipeline(ctx context.Context, job *domain.Job, rc *runContext) {
	var temps []string
	defer func() {
		r.cleanupTemps(rc, temps)
		rc.finalize(ctx)
		r.notify(ctx, job, rc)
	}()

	db := r.databases[job.ID]
	storage := r.storages[job.StorageTarget]
	artifact := rc.exec.ArtifactPath

	rc.enterStage("Downloading artifact")
	localPkg := filepath.Join(r.tempDir, fmt.Sprintf("restore_%s_%s", rc.exec.ID, filepath.Base(artifact)))
	temps = append(temps, localPkg)
	err := storage.Download(ctx, artifact, localPkg, func(done, total int64) {
		if total > 0 {
			rc.Progress(float64(done)/float64(total)*50, "Downloading artifact")
		}
	})
	if err != nil {
		rc.fail(domain.NewAdapterError("download artifact", err))
		return
	}

	localMeta := localPkg + domain.SidecarSuffix
	temps = append(temps, localMeta)
	if err := storage.Download(ctx, domain.SidecarName(artifact), localMeta, nil); err != nil {
		rc.fail(domain.NewAdapterError("download sidecar", err))
		return
	}
	meta, err := os.ReadFile(localMeta)
	if err != nil {
		rc.fail(domain.NewAdapterError("read sidecar", err))
		return
	}
	sidecar, err := domain.DecodeSidecar(meta)
	if err != nil {
		rc.fail(domain.NewValidationError("invalid sidecar", err))
		return
	}

	rc.enterStage("Unpacking artifact")
	plainPath := filepath.Join(r.tempDir, fmt.Sprintf("restore_%s_%s", rc.exec.ID, sidecar.OriginalName))
	temps = append(temps, plainPath)
	if err := r.unpackArtifact(ctx, localPkg, plainPath, sidecar); err != nil {
		rc.fail(err)
		return
	}

	rc.enterStage("Restoring database")
	if err := db.Restore(ctx, plainPath, rc); err != nil {
		rc.fail(domain.NewAdapterError("restore failed", err))
		return
	}
	rc.Logf("Restore of %s completed", artifact)
}

// unpackArtifact reverses the packaging described by the sidecar. Decryption
// fails closed: the destination file is removed unless the auth tag verifies
// over the entire ciphertext, so no partial plaintext ever survives.
func (r *Runner) unpackArtifact(ctx context.Context, srcPath, destPath string, sc *domain.Sidecar) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return domain.NewAdapterError("open downloaded artifact", err)
	}
	defer in.Close()

	var reader io.Reader = in
	var dec *cipherstream.DecryptReader

	if sc.Encryption == domain.EncryptionAESGCM {
		if sc.EncryptionProfileID == "" {
			return domain.NewValidationError("sidecar names no encryption profile", nil)
		}
		profile, err := r.catalog.GetProfile(ctx, sc.EncryptionProfileID)
		if err != nil {
			return domain.NewValidationError(fmt.Sprintf("encryption profile %s not found", sc.EncryptionProfileID), err)
		}
		key, err := profile.Unwrap(r.masterKey)
		if err != nil {
			return err
		}
		iv, err := hex.DecodeString(sc.IV)
		if err != nil {
			return domain.NewValidationError("sidecar iv is not valid hex", err)
		}
		tag, err := hex.DecodeString(sc.AuthTag)
		if err != nil {
			return domain.NewValidationError("sidecar auth tag is not valid hex", err)
		}
		dec, err = cipherstream.NewDecryptReader(in, key, iv, tag)
		if err != nil {
			return domain.NewValidationError("initialize decryption stream", err)
		}
		reader = dec
	}

	if sc.Compression == domain.CompressionGzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			os.Remove(destPath)
			return r.unpackError(err)
		}
		defer gz.Close()
		reader = gz
	}

	out, err := os.Create(destPath)
	if err != nil {
		return domain.NewAdapterError("create restore file", err)
	}

	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(destPath)
		return r.unpackError(err)
	}

	// The gzip trailer can satisfy the decompressor before the decrypt
	// stream reaches EOF, so drain it explicitly to force tag verification.
	if dec != nil {
		if _, err := io.Copy(io.Discard, dec); err != nil && err != io.EOF {
			out.Close()
			os.Remove(destPath)
			return r.unpackError(err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return domain.NewAdapterError("close restore file", err)
	}
	return nil
}

func (r *Runner) unpackError(err error) error {
	if errors.Is(err, cipherstream.ErrAuthentication) {
		return domain.NewAuthenticationError("artifact failed authentication; discarding output", err)
	}
	return domain.NewAdapterError("unpack artifact", err)
}
