// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package assets

// Well-known file names inside a materialized asset directory. The
// names are part of the on-disk and remote formats and must not change.
const (
	DatasetCardFile = "dataset_card.md"
	ModelCardFile   = "model_card.md"
	ModelConfigFile = "config.json"
)

// CardFile returns the card file name for the kind.
func (kind Kind) CardFile() string {
	if kind == Model {
		return ModelCardFile
	}
	return DatasetCardFile
}

// DatasetMarkerFiles indicate a materialized dataset version. At least
// one must be present for the version to count as existing.
var DatasetMarkerFiles = []string{"dataset_info.json", "dataset_dict.json"}

// ModelWeightFiles indicate a full model rather than metadata only.
var ModelWeightFiles = []string{"pytorch_model.bin", "model.safetensors"}

// ModelTokenizerFiles indicate a bundled tokenizer.
var ModelTokenizerFiles = []string{"tokenizer.json", "tokenizer_config.json"}
