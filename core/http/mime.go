package http

import "path/filepath"

const defaultContentType = "text/plain"

var suffixType = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".json":  "application/json",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".mp4":   "video/mp4",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".zip":   "application/zip",
	".css":   "text/css",
	".js":    "text/javascript",
}

// ContentType returns the MIME type for a file name based on its suffix
func ContentType(name string) string {
	if t, ok := suffixType[filepath.Ext(name)]; ok {
		return t
	}
	return defaultContentType
}
