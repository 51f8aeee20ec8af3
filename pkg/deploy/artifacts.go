package deploy

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openfroyo/froyostack/pkg/artifact"
	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/stores"
	"github.com/openfroyo/froyostack/pkg/telemetry"
	"github.com/openfroyo/froyostack/pkg/template"
)

// Package bundles every function of the project.
func (d *Deployer) Package(ctx context.Context) ([]*artifact.Descriptor, error) {
	var descriptors []*artifact.Descriptor
	err := d.phase(ctx, "package", func(ctx context.Context) error {
		start := time.Now()
		var err error
		descriptors, err = d.packager.PackageAll(ctx, d.project.ArtifactSources())
		if err != nil {
			return err
		}
		d.tel.Metrics.RecordPackaging(len(descriptors), time.Since(start))
		return nil
	})
	return descriptors, err
}

// PublishArtifacts uploads the bundles missing from the deployment bucket and
// records each bundle key as a known parameter of dc. A content-addressed key
// already present in the bucket is never uploaded again. The journal records
// every bundle found in or uploaded to the bucket, and a journaled bundle that
// went missing from the bucket is uploaded again.
func (d *Deployer) PublishArtifacts(ctx context.Context, dc *engine.DeploymentContext, tmpl template.Template, descriptors []*artifact.Descriptor) (int, error) {
	uploaded := 0
	err := d.phase(ctx, "sync", func(ctx context.Context) error {
		if err := d.syncer.EnsureBucket(ctx, dc.Bucket); err != nil {
			return err
		}
		existing, err := d.syncer.Keys(ctx, dc.Bucket, artifact.KeyPrefix)
		if err != nil {
			return err
		}

		var skipped int
		var bytes int64
		for _, desc := range descriptors {
			logger := d.logger.With().Str("function", desc.LogicalName).Str("key", desc.RemoteKey).Logger()
			journaled := d.artifactJournaled(ctx, dc.Bucket, desc.RemoteKey)

			if _, ok := existing[desc.RemoteKey]; ok {
				logger.Debug().Bool("journaled", journaled).Msg("Bundle already uploaded")
				skipped++
				// Uploaded from another checkout or before the journal existed.
				if !journaled {
					d.recordArtifact(ctx, dc.Bucket, desc)
				}
			} else {
				if journaled {
					logger.Warn().Msg("Journaled bundle is missing from the bucket, uploading again")
				}
				meta := engine.ObjectMetadata{ContentType: "application/zip"}
				if err := d.syncer.UploadFile(ctx, dc.Bucket, desc.RemoteKey, desc.LocalBundlePath, meta); err != nil {
					return err
				}
				logger.Info().Str("size", humanize.IBytes(uint64(desc.Size))).Msg("Uploaded bundle")
				uploaded++
				bytes += desc.Size
				_ = d.tel.Events.PublishArtifactUploaded(dc.ID, desc.RemoteKey, desc.Size)
				d.recordArtifact(ctx, dc.Bucket, desc)
			}

			// Override fragments may not reference the bundle at all.
			if param := template.S3KeyParameter(desc.LogicalName); tmpl.HasParameter(param) {
				if dc.KnownParameters == nil {
					dc.KnownParameters = make(map[string]string)
				}
				dc.KnownParameters[param] = desc.RemoteKey
			}
		}

		d.tel.Metrics.RecordUploads(telemetry.UploadKindArtifact, uploaded, skipped, bytes)
		return nil
	})
	return uploaded, err
}

func (d *Deployer) artifactJournaled(ctx context.Context, bucket, key string) bool {
	if d.journal == nil {
		return false
	}
	known, err := d.journal.HasArtifact(ctx, bucket, key)
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("Failed to query bundle journal")
		return false
	}
	return known
}

func (d *Deployer) recordArtifact(ctx context.Context, bucket string, desc *artifact.Descriptor) {
	if d.journal == nil {
		return
	}
	err := d.journal.RecordArtifact(ctx, &stores.Artifact{
		Bucket:      bucket,
		Key:         desc.RemoteKey,
		LogicalName: desc.LogicalName,
		ContentHash: desc.ContentHash.String(),
		Size:        desc.Size,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("key", desc.RemoteKey).Msg("Failed to journal bundle")
	}
}
