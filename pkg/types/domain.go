package types

import "time"

// Model represents a model file discovered on disk.
type Model struct {
	// Stable identifier: the file name without the .gguf extension.
	// example: llama-3.2-3b-instruct-q4_k_m
	ID string `json:"id" example:"llama-3.2-3b-instruct-q4_k_m"`
	// Human-friendly name (the file name).
	// example: llama-3.2-3b-instruct-q4_k_m.gguf
	Name string `json:"name" example:"llama-3.2-3b-instruct-q4_k_m.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/llama-3.2-3b-instruct-q4_k_m.gguf
	Path string `json:"path" example:"/home/user/models/llama-3.2-3b-instruct-q4_k_m.gguf"`
	// File size in bytes.
	// example: 2019377696
	Size int64 `json:"size" example:"2019377696"`
	// Last modification time of the file.
	ModifiedAt time.Time `json:"modified_at"`
	// Quantization level guessed from the file name.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Model family guessed from the file name (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty" example:"llama"`
}
