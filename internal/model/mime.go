package model

// Content types the ingestion pipeline knows about. The OOXML Word name is
// spelled out once here so the rest of the codebase never repeats it.
const (
	MimePlainText = "text/plain"
	MimePDF       = "application/pdf"
	MimeDoc       = "application/msword"
	MimeDocx      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeJPEG      = "image/jpeg"
	MimePNG       = "image/png"
	MimeGIF       = "image/gif"
	MimeWebP      = "image/webp"
)
