package types

// labelsAttribute is the dataset attribute carrying observable labels.
const labelsAttribute = "sedmlDataSetLabels"

// DatasetAttribute is a key/value attribute attached to an output dataset.
type DatasetAttribute struct {
	Key   string `msgpack:"key" json:"key"`
	Value any    `msgpack:"value" json:"value"`
}

// DatasetMeta describes one output dataset of a simulation run.
// A dataset is a 2D block: one row per labeled observable, one column
// per time point (a single-row dataset may have a 1D shape).
type DatasetMeta struct {
	// Name is the dataset name used to fetch values.
	Name string `msgpack:"name" json:"name"`
	// Shape is the dataset dimensions, rows first.
	Shape []int `msgpack:"shape" json:"shape"`
	// Attributes are the dataset attributes as reported upstream.
	Attributes []DatasetAttribute `msgpack:"attributes" json:"attributes"`
}

// Labels returns the observable labels for this dataset, extracted from
// the sedmlDataSetLabels attribute. Returns nil when absent.
func (d DatasetMeta) Labels() []string {
	for _, attr := range d.Attributes {
		if attr.Key != labelsAttribute {
			continue
		}
		switch v := attr.Value.(type) {
		case []string:
			return v
		case []any:
			labels := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil
				}
				labels = append(labels, s)
			}
			return labels
		}
	}
	return nil
}

// DatasetGroup is a named group of output datasets.
type DatasetGroup struct {
	Name       string             `msgpack:"name" json:"name"`
	Attributes []DatasetAttribute `msgpack:"attributes" json:"attributes"`
	Datasets   []DatasetMeta      `msgpack:"datasets" json:"datasets"`
}

// ResultsMeta is the output-dataset metadata for a completed run
// (GET /datasets/{id}/metadata).
type ResultsMeta struct {
	Filename string         `msgpack:"filename" json:"filename"`
	ID       string         `msgpack:"id" json:"id"`
	URI      string         `msgpack:"uri" json:"uri"`
	Groups   []DatasetGroup `msgpack:"groups" json:"groups"`
}

// Datasets flattens all groups into a name-keyed dataset map.
func (m *ResultsMeta) Datasets() map[string]DatasetMeta {
	datasets := make(map[string]DatasetMeta)
	for _, group := range m.Groups {
		for _, ds := range group.Datasets {
			datasets[ds.Name] = ds
		}
	}
	return datasets
}

// DataValues is the raw value block of one dataset
// (GET /datasets/{id}/data?dataset_name=...).
type DataValues struct {
	// Shape is the block dimensions, rows first.
	Shape []int `msgpack:"shape" json:"shape"`
	// Values is the flattened row-major value block.
	Values []float64 `msgpack:"values" json:"values"`
}
