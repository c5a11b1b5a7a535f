package resgroup

import (
	"errors"
	"fmt"
)

// Code identifies the failure class of an engine error. Every operation
// returns its first error; partial writes are not rolled back.
type Code int

const (
	CodeFail Code = iota + 1
	CodeFileNotFound
	CodeFailedToOpenFile
	CodeFailedToOpenFileStream
	CodeFailedToReadFromStream
	CodeFailedToSaveToStream
	CodeFailedToSaveFile
	CodeFailedToCompressData
	CodeFailedToGenerateChecksum
	CodeFailedToRetrieveChunkData
	CodeUnexpectedEndOfChunks
	CodeUnexpectedChunkChecksum
	CodeInputDirectoryDoesntExist
	CodeUnsupportedFileFormat
	CodeMalformedResourceGroup
	CodeMalformedResourceInput
	CodeFailedToParseYaml
	CodeFileTypeMismatch
	CodeDocumentVersionUnsupported
	CodeInvalidChunkSize
	CodeResourceNotFound
	CodeResourceListNotSet
	CodeResourceGroupNotSet
	CodeRequiredInputParameterNotSet
	CodePatchResourceListMismatch
	CodeUnexpectedPatchDiffEncountered
	CodeFailedToCreatePatch
)

var codeNames = map[Code]string{
	CodeFail:                           "FAIL",
	CodeFileNotFound:                   "FILE_NOT_FOUND",
	CodeFailedToOpenFile:               "FAILED_TO_OPEN_FILE",
	CodeFailedToOpenFileStream:         "FAILED_TO_OPEN_FILE_STREAM",
	CodeFailedToReadFromStream:         "FAILED_TO_READ_FROM_STREAM",
	CodeFailedToSaveToStream:           "FAILED_TO_SAVE_TO_STREAM",
	CodeFailedToSaveFile:               "FAILED_TO_SAVE_FILE",
	CodeFailedToCompressData:           "FAILED_TO_COMPRESS_DATA",
	CodeFailedToGenerateChecksum:       "FAILED_TO_GENERATE_CHECKSUM",
	CodeFailedToRetrieveChunkData:      "FAILED_TO_RETRIEVE_CHUNK_DATA",
	CodeUnexpectedEndOfChunks:          "UNEXPECTED_END_OF_CHUNKS",
	CodeUnexpectedChunkChecksum:        "UNEXPECTED_CHUNK_CHECKSUM_RESULT",
	CodeInputDirectoryDoesntExist:      "INPUT_DIRECTORY_DOESNT_EXIST",
	CodeUnsupportedFileFormat:          "UNSUPPORTED_FILE_FORMAT",
	CodeMalformedResourceGroup:         "MALFORMED_RESOURCE_GROUP",
	CodeMalformedResourceInput:         "MALFORMED_RESOURCE_INPUT",
	CodeFailedToParseYaml:              "FAILED_TO_PARSE_YAML",
	CodeFileTypeMismatch:               "FILE_TYPE_MISMATCH",
	CodeDocumentVersionUnsupported:     "DOCUMENT_VERSION_UNSUPPORTED",
	CodeInvalidChunkSize:               "INVALID_CHUNK_SIZE",
	CodeResourceNotFound:               "RESOURCE_NOT_FOUND",
	CodeResourceListNotSet:             "RESOURCE_LIST_NOT_SET",
	CodeResourceGroupNotSet:            "RESOURCE_GROUP_NOT_SET",
	CodeRequiredInputParameterNotSet:   "REQUIRED_INPUT_PARAMETER_NOT_SET",
	CodePatchResourceListMismatch:      "PATCH_RESOURCE_LIST_MISSMATCH",
	CodeUnexpectedPatchDiffEncountered: "UNEXPECTED_PATCH_DIFF_ENCOUNTERED",
	CodeFailedToCreatePatch:            "FAILED_TO_CREATE_PATCH",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the value every failed operation returns: a code plus optional
// human-readable detail.
type Error struct {
	Code Code
	Info string
}

func (e *Error) Error() string {
	if e.Info == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Info
}

// errf builds an *Error with formatted detail.
func errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Info: fmt.Sprintf(format, args...)}
}

// errc builds a bare *Error.
func errc(code Code) *Error {
	return &Error{Code: code}
}

// CodeOf extracts the Code from err, unwrapping as needed. It returns 0 for
// nil and CodeFail for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeFail
}
