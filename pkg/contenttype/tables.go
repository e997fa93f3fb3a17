package contenttype

// extensions overrides the platform MIME table, which varies between hosts.
var extensions = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
	".xml":      "text/xml",
	".htm":      "text/html",
	".html":     "text/html",
	".eml":      RFC822,
	".mht":      RFC822,
	".emlx":     Emlx,
	".emlxpart": EmlxPart,
	".msg":      OutlookMsg,
	".pst":      PST,
	".ost":      PST,
	".asc":      "application/x-pgp-encrypted-ascii",
	".pgp":      "application/x-pgp-encrypted-binary",
	".pdf":      "application/pdf",
	".rtf":      "application/rtf",
	".doc":      "application/msword",
	".dot":      "application/msword",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".dotx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.template",
	".odt":      "application/vnd.oasis.opendocument.text",
	".ott":      "application/vnd.oasis.opendocument.text-template",
	".xls":      "application/vnd.ms-excel",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xltx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.template",
	".ods":      "application/vnd.oasis.opendocument.spreadsheet",
	".ppt":      "application/vnd.ms-powerpoint",
	".pptx":     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ppsx":     "application/vnd.openxmlformats-officedocument.presentationml.slideshow",
	".odp":      "application/vnd.oasis.opendocument.presentation",
	".zip":      "application/zip",
	".rar":      "application/x-rar-compressed",
	".7z":       "application/x-7z-compressed",
	".tar":      "application/x-tar",
	".gz":       "application/x-gzip",
	".tgz":      "application/x-gzip",
	".bz2":      "application/x-bzip2",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".png":      "image/png",
	".gif":      "image/gif",
	".tif":      "image/tiff",
	".tiff":     "image/tiff",
	".bmp":      "image/bmp",
	".mp3":      "audio/mpeg",
	".wav":      "audio/x-wav",
	".mp4":      "video/mp4",
	".avi":      "video/x-msvideo",
	".mov":      "video/quicktime",
}

// sniffAliases folds sniffer output onto the names fileTypes knows.
var sniffAliases = map[string]string{
	"application/x-rar-compressed": "application/x-rar-compressed",
	"application/vnd.rar":          "application/x-rar-compressed",
	"application/gzip":             "application/x-gzip",
	"application/x-ole-storage":    "application/msword",
	"application/vnd.ms-outlook":   OutlookMsg,
	"message/rfc822":               RFC822,
}

var fileTypes = map[string]string{
	Folder:             TagFolder,
	"application/pdf":  TagPDF,
	"text/plain":       TagText,
	"text/csv":         TagText,
	"text/xml":         TagText,
	"application/json": TagText,
	"text/html":        TagHTML,

	Emlx:       TagEmail,
	RFC822:     TagEmail,
	OutlookMsg: TagEmail,
	PST:        TagEmailArchive,

	"application/msword": TagDoc,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TagDoc,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template": TagDoc,
	"application/vnd.ms-word.document.macroenabled.12":                        TagDoc,
	"application/vnd.ms-word.template.macroenabled.12":                        TagDoc,
	"application/vnd.oasis.opendocument.text":                                 TagDoc,
	"application/vnd.oasis.opendocument.text-template":                        TagDoc,
	"application/rtf": TagDoc,

	"application/vnd.ms-excel": TagXLS,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":    TagXLS,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.template": TagXLS,
	"application/vnd.ms-excel.sheet.macroenabled.12":                       TagXLS,
	"application/vnd.ms-excel.template.macroenabled.12":                    TagXLS,
	"application/vnd.ms-excel.addin.macroenabled.12":                       TagXLS,
	"application/vnd.ms-excel.sheet.binary.macroenabled.12":                TagXLS,
	"application/vnd.oasis.opendocument.spreadsheet-template":              TagXLS,
	"application/vnd.oasis.opendocument.spreadsheet":                       TagXLS,

	"application/vnd.ms-powerpoint":                                             TagPPT,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": TagPPT,
	"application/vnd.openxmlformats-officedocument.presentationml.template":     TagPPT,
	"application/vnd.openxmlformats-officedocument.presentationml.slideshow":    TagPPT,
	"application/vnd.ms-powerpoint.addin.macroenabled.12":                       TagPPT,
	"application/vnd.ms-powerpoint.presentation.macroenabled.12":                TagPPT,
	"application/vnd.ms-powerpoint.template.macroenabled.12":                    TagPPT,
	"application/vnd.ms-powerpoint.slideshow.macroenabled.12":                   TagPPT,
	"application/vnd.oasis.opendocument.presentation":                           TagPPT,
	"application/vnd.oasis.opendocument.presentation-template":                  TagPPT,

	"application/zip":              TagArchive,
	"application/rar":              TagArchive,
	"application/x-7z-compressed":  TagArchive,
	"application/x-tar":            TagArchive,
	"application/x-bzip2":          TagArchive,
	"application/x-zip":            TagArchive,
	"application/x-gzip":           TagArchive,
	"application/x-zip-compressed": TagArchive,
	"application/x-rar-compressed": TagArchive,
}
