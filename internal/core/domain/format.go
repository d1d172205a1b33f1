package domain

type Category string

const (
	CategoryDocument     Category = "document"
	CategorySpreadsheet  Category = "spreadsheet"
	CategoryPresentation Category = "presentation"
	CategoryImage        Category = "image"
	CategoryMarkup       Category = "markup"
	CategoryArchive      Category = "archive"
)

// Format is a file format identified by its canonical lowercase extension.
type Format struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	MIME     string   `json:"mime_type"`
	// Magic lists accepted leading byte signatures; empty means no sniffing.
	Magic [][]byte `json:"-"`
}

type BackendID string

const (
	BackendOffice  BackendID = "office"
	BackendMarkup  BackendID = "markup"
	BackendImage   BackendID = "image"
	BackendTabular BackendID = "tabular"
)

// Capability is one group of conversions a backend can perform: every
// input converts to every output.
type Capability struct {
	Inputs  []string
	Outputs []string
}

type BackendDeclaration struct {
	ID           BackendID
	Priority     int
	Capabilities []Capability
}

type Pair struct {
	From string
	To   string
}

func (p Pair) String() string {
	return p.From + "->" + p.To
}
