// Package audio handles the PCM input contract of the recognizer.
// It describes the fixed audio format, splits a PCM buffer into paced upload
// chunks, and converts WAV input into 16 kHz 16-bit mono PCM.
package audio
