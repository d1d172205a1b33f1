package registry

import "github.com/kirillkom/file-converter/internal/core/domain"

var (
	magicPDF  = [][]byte{[]byte("%PDF-")}
	magicZIP  = [][]byte{[]byte("PK\x03\x04")}
	magicOLE  = [][]byte{[]byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1")}
	magicRTF  = [][]byte{[]byte(`{\rtf`)}
	magicPNG  = [][]byte{[]byte("\x89PNG\r\n\x1a\n")}
	magicJPEG = [][]byte{[]byte("\xFF\xD8\xFF")}
	magicGIF  = [][]byte{[]byte("GIF87a"), []byte("GIF89a")}
	magicBMP  = [][]byte{[]byte("BM")}
	magicTIFF = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}
	magicWEBP = [][]byte{[]byte("RIFF")}
)

// DefaultCatalog returns every format the service knows about, whether or
// not any backend can convert it.
func DefaultCatalog() []domain.Format {
	return []domain.Format{
		{ID: "pdf", Category: domain.CategoryDocument, MIME: "application/pdf", Magic: magicPDF},
		{ID: "doc", Category: domain.CategoryDocument, MIME: "application/msword", Magic: magicOLE},
		{ID: "docx", Category: domain.CategoryDocument, MIME: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Magic: magicZIP},
		{ID: "odt", Category: domain.CategoryDocument, MIME: "application/vnd.oasis.opendocument.text", Magic: magicZIP},
		{ID: "rtf", Category: domain.CategoryDocument, MIME: "application/rtf", Magic: magicRTF},
		{ID: "txt", Category: domain.CategoryDocument, MIME: "text/plain; charset=utf-8"},

		{ID: "xls", Category: domain.CategorySpreadsheet, MIME: "application/vnd.ms-excel", Magic: magicOLE},
		{ID: "xlsx", Category: domain.CategorySpreadsheet, MIME: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Magic: magicZIP},
		{ID: "ods", Category: domain.CategorySpreadsheet, MIME: "application/vnd.oasis.opendocument.spreadsheet", Magic: magicZIP},
		{ID: "csv", Category: domain.CategorySpreadsheet, MIME: "text/csv; charset=utf-8"},

		{ID: "ppt", Category: domain.CategoryPresentation, MIME: "application/vnd.ms-powerpoint", Magic: magicOLE},
		{ID: "pptx", Category: domain.CategoryPresentation, MIME: "application/vnd.openxmlformats-officedocument.presentationml.presentation", Magic: magicZIP},
		{ID: "odp", Category: domain.CategoryPresentation, MIME: "application/vnd.oasis.opendocument.presentation", Magic: magicZIP},

		{ID: "jpg", Category: domain.CategoryImage, MIME: "image/jpeg", Magic: magicJPEG},
		{ID: "png", Category: domain.CategoryImage, MIME: "image/png", Magic: magicPNG},
		{ID: "gif", Category: domain.CategoryImage, MIME: "image/gif", Magic: magicGIF},
		{ID: "bmp", Category: domain.CategoryImage, MIME: "image/bmp", Magic: magicBMP},
		{ID: "tiff", Category: domain.CategoryImage, MIME: "image/tiff", Magic: magicTIFF},
		{ID: "webp", Category: domain.CategoryImage, MIME: "image/webp", Magic: magicWEBP},
		{ID: "svg", Category: domain.CategoryImage, MIME: "image/svg+xml"},

		{ID: "md", Category: domain.CategoryMarkup, MIME: "text/markdown; charset=utf-8"},
		{ID: "html", Category: domain.CategoryMarkup, MIME: "text/html; charset=utf-8"},
		{ID: "tex", Category: domain.CategoryMarkup, MIME: "application/x-tex"},
		{ID: "epub", Category: domain.CategoryMarkup, MIME: "application/epub+zip", Magic: magicZIP},
		{ID: "rst", Category: domain.CategoryMarkup, MIME: "text/x-rst; charset=utf-8"},
		{ID: "json", Category: domain.CategoryMarkup, MIME: "application/json"},

		{ID: "zip", Category: domain.CategoryArchive, MIME: "application/zip", Magic: magicZIP},
	}
}

var aliases = map[string]string{
	"jpeg":     "jpg",
	"jpe":      "jpg",
	"htm":      "html",
	"tif":      "tiff",
	"markdown": "md",
	"latex":    "tex",
	"text":     "txt",
}
