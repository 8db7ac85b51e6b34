package runtime

import "strconv"

// Container labels recording which stack owns a replica, following the
// com.<tool>.* convention of compose-style tools.
const (
	labelPrefix = "com.stackrun"

	// LabelProject is the owning project name
	LabelProject = labelPrefix + ".project"
	// LabelService is the service the replica belongs to
	LabelService = labelPrefix + ".service"
	// LabelReplicaNumber is the 1-based replica ordinal
	LabelReplicaNumber = labelPrefix + ".container-number"
	// LabelOneOff marks replicas started with `stackrun run`
	LabelOneOff = labelPrefix + ".oneoff"
	// LabelConfigFile is the stack file the replica was created from
	LabelConfigFile = labelPrefix + ".config_file"
	// LabelConfigHash fingerprints the normalized service config
	LabelConfigHash = labelPrefix + ".config-hash"
)

// OwnershipLabels builds the standard label set for a replica.
func OwnershipLabels(project, service string, ordinal int, oneOff bool, configFile, configHash string) map[string]string {
	labels := map[string]string{
		LabelProject:       project,
		LabelService:       service,
		LabelReplicaNumber: strconv.Itoa(ordinal),
		LabelOneOff:        strconv.FormatBool(oneOff),
	}
	if configFile != "" {
		labels[LabelConfigFile] = configFile
	}
	if configHash != "" {
		labels[LabelConfigHash] = configHash
	}
	return labels
}
